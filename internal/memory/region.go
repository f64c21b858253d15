package memory

import (
	"fmt"
	"unsafe"

	lerrors "github.com/lumenforge/lumen/internal/errors"
)

// Backing selects where a pool's large buffers come from.
type Backing uint8

const (
	// BackingSystem maps anonymous memory from the OS where supported and
	// falls back to the Go heap elsewhere.
	BackingSystem Backing = iota
	// BackingHeap always uses the Go heap.
	BackingHeap
)

func (b Backing) String() string {
	switch b {
	case BackingSystem:
		return "system"
	case BackingHeap:
		return "heap"
	default:
		return fmt.Sprintf("Backing(%d)", uint8(b))
	}
}

// region is one contiguous, aligned buffer owned by a pool.
type region struct {
	mem    []byte
	start  unsafe.Pointer // aligned start inside mem
	base   uintptr
	size   uintptr
	mapped bool
}

// newRegion reserves size usable bytes whose start is aligned to alignment.
func newRegion(size, alignment uintptr, backing Backing) (*region, error) {
	mustPowerOfTwo(alignment)
	total := size
	if alignment > pageSize {
		total += alignment
	}

	var (
		mem    []byte
		mapped bool
		err    error
	)
	if backing == BackingSystem && sysMapSupported {
		mem, err = sysAlloc(total)
		if err != nil {
			return nil, lerrors.WrapResourceError(err, "newRegion", "mmap failed").WithContext("size", total)
		}
		mapped = true
	} else {
		mem = make([]byte, size+alignment)
	}

	raw := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	shift := AlignUp(alignment, raw) - raw
	r := &region{
		mem:    mem,
		start:  unsafe.Add(unsafe.Pointer(unsafe.SliceData(mem)), shift),
		base:   raw + shift,
		size:   size,
		mapped: mapped,
	}
	return r, nil
}

// at returns the pointer at offset off from the aligned start.
func (r *region) at(off uintptr) unsafe.Pointer {
	return unsafe.Add(r.start, off)
}

// offset returns p's offset from the aligned start.
func (r *region) offset(p unsafe.Pointer) uintptr {
	return uintptr(p) - r.base
}

// contains reports whether p lies in [start, start+size).
func (r *region) contains(p unsafe.Pointer) bool {
	addr := uintptr(p)
	return addr >= r.base && addr < r.base+r.size
}

func (r *region) release() error {
	mem := r.mem
	r.mem = nil
	r.start = nil
	if r.mapped && mem != nil {
		return sysFree(mem)
	}
	return nil
}
