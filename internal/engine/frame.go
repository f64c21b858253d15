package engine

import (
	"time"
	"unsafe"

	"github.com/lumenforge/lumen/internal/memory"
)

// Frame is one iteration of the simulation loop. Allocations made through
// a frame are valid until EndFrame.
type Frame struct {
	number uint64
	alloc  memory.Allocator[byte]
	stack  *memory.StackPool
	start  memory.Snapshot
	began  time.Time
	ended  bool
}

// Number returns the frame's 1-based sequence number.
func (f *Frame) Number() uint64 {
	return f.number
}

// Used returns the bytes carved from the frame pool so far.
func (f *Frame) Used() uintptr {
	return f.stack.AllocatedSize() - uintptr(f.start)
}

// Allocate returns size raw bytes from the frame pool, or nil.
func (f *Frame) Allocate(size, alignment uintptr) unsafe.Pointer {
	f.mustBeOpen()
	return f.alloc.Pool().Allocate(size, alignment)
}

// Free returns the most recent frame allocation early.
func (f *Frame) Free(p unsafe.Pointer) {
	f.mustBeOpen()
	f.alloc.Pool().Free(p)
}

func (f *Frame) mustBeOpen() {
	if f.ended {
		panic("engine: use of ended frame")
	}
}

// FrameNew places v in frame memory. It returns nil when the frame pool
// is exhausted.
func FrameNew[T any](f *Frame, v T) *T {
	f.mustBeOpen()
	return memory.NewInstance(f.alloc, v)
}

// FrameArray allocates n zeroed values of T in frame memory, or nil.
func FrameArray[T any](f *Frame, n int) []T {
	f.mustBeOpen()
	return memory.NewArray[T](f.alloc, n)
}

// FrameDelete returns v early. It must be the most recent frame
// allocation.
func FrameDelete[T any](f *Frame, v *T) {
	f.mustBeOpen()
	memory.DeleteInstance(f.alloc, v)
}
