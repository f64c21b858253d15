package memory

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/lumenforge/lumen/internal/refcnt"
)

// ArrowAlignment matches arrow's buffer alignment.
const ArrowAlignment = 64

// ArrowAllocator implements arrow's memory.Allocator on top of a Pool so
// that columnar builders draw their buffers from engine pools.
//
// Arrow frees buffers in whatever order builders release them, so a chain
// or heap pool is the natural backing; a stack pool works but logs
// out-of-order frees.
type ArrowAllocator struct {
	pool      refcnt.Shared[*Pool]
	allocated atomic.Int64
}

// NewArrowAllocator takes a shared reference on pool.
func NewArrowAllocator(pool *Pool) *ArrowAllocator {
	invariant(pool != nil, "arrow allocator bound to nil pool")
	return &ArrowAllocator{pool: refcnt.NewShared(pool)}
}

// Allocate returns a buffer of exactly size bytes. Arrow has no way to
// signal failure, so an exhausted pool panics here.
func (a *ArrowAllocator) Allocate(size int) []byte {
	ptr := a.pool.Get().Allocate(uintptr(size), ArrowAlignment)
	if ptr == nil {
		panic(fmt.Sprintf("memory: arrow allocation of %d bytes failed", size))
	}
	a.allocated.Add(int64(size))
	return unsafe.Slice((*byte)(ptr), size)
}

// Reallocate grows or shrinks b, copying its contents when it moves.
func (a *ArrowAllocator) Reallocate(size int, b []byte) []byte {
	if size <= cap(b) {
		return b[:size]
	}
	nb := a.Allocate(size)
	copy(nb, b)
	a.Free(b)
	return nb
}

// Free returns b to the pool.
func (a *ArrowAllocator) Free(b []byte) {
	ptr := unsafe.SliceData(b)
	if ptr == nil {
		return
	}
	a.allocated.Add(-int64(cap(b)))
	a.pool.Get().Free(unsafe.Pointer(ptr))
}

// Allocated returns the bytes currently handed to arrow.
func (a *ArrowAllocator) Allocated() int64 {
	return a.allocated.Load()
}

// Release drops the pool reference.
func (a *ArrowAllocator) Release() {
	a.pool.Release()
}

var _ memory.Allocator = (*ArrowAllocator)(nil)
