package memory

import (
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/lumenforge/lumen/internal/metrics"
	"go.uber.org/zap"
)

// DefaultHeapAlignment is used when a caller passes alignment 0.
const DefaultHeapAlignment = 16

// HeapPool hands out independently aligned blocks from the Go heap. Blocks
// may be freed in any order. The pool only counts allocations so that a
// leak can be reported when it is closed.
type HeapPool struct {
	opts   options
	live   sync.Map // uintptr -> heapBlock
	count  atomic.Int64
	bytes  atomic.Int64
	closed atomic.Bool
}

type heapBlock struct {
	buf  []byte
	size uintptr
}

// NewHeapPool creates a heap pool.
func NewHeapPool(opts ...Option) *HeapPool {
	return &HeapPool{opts: applyOptions("heap", opts)}
}

// Allocate returns size bytes aligned to alignment, or nil on failure.
func (p *HeapPool) Allocate(size, alignment uintptr) unsafe.Pointer {
	if alignment == 0 {
		alignment = DefaultHeapAlignment
	}
	mustPowerOfTwo(alignment)

	if p.closed.Load() {
		p.opts.logger.Error("allocate on closed pool", zap.String("pool", p.opts.name), zap.Uintptr("size", size))
		metrics.PoolAllocationsTotal.WithLabelValues(KindHeap.String(), "rejected").Inc()
		return nil
	}
	if size > math.MaxInt-alignment {
		p.opts.logger.Error("heap allocation failed",
			zap.String("pool", p.opts.name),
			zap.Uintptr("size", size),
			zap.Uintptr("alignment", alignment),
		)
		metrics.PoolAllocationsTotal.WithLabelValues(KindHeap.String(), "exhausted").Inc()
		return nil
	}

	// Zero-size requests still get a distinct address.
	buf := make([]byte, size+alignment)
	raw := unsafe.Pointer(unsafe.SliceData(buf))
	ptr := unsafe.Add(raw, AlignUp(alignment, uintptr(raw))-uintptr(raw))

	p.live.Store(uintptr(ptr), heapBlock{buf: buf, size: size})
	p.count.Add(1)
	p.bytes.Add(int64(size))
	metrics.PoolAllocationsTotal.WithLabelValues(KindHeap.String(), "ok").Inc()
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Add(float64(size))
	return ptr
}

// Free releases a block returned by Allocate. Freeing a pointer the pool
// did not hand out panics.
func (p *HeapPool) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	v, ok := p.live.LoadAndDelete(uintptr(ptr))
	invariant(ok, "heap pool %q: free of unknown pointer %p", p.opts.name, ptr)

	size := int64(v.(heapBlock).size)
	p.count.Add(-1)
	p.bytes.Add(-size)
	metrics.PoolFreesTotal.WithLabelValues(KindHeap.String()).Inc()
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Sub(float64(size))
}

// AllocationCount returns the number of outstanding blocks.
func (p *HeapPool) AllocationCount() int64 {
	return p.count.Load()
}

// AllocatedSize returns the bytes requested by outstanding blocks.
func (p *HeapPool) AllocatedSize() uintptr {
	return uintptr(p.bytes.Load())
}

// Close reports outstanding blocks as a leak. It never fails.
func (p *HeapPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := p.count.Load(); n != 0 {
		p.opts.logger.Warn("pool closed with outstanding allocations",
			zap.String("pool", p.opts.name),
			zap.Int64("outstanding", n),
		)
		metrics.PoolLeakedAllocationsTotal.WithLabelValues(KindHeap.String()).Add(float64(n))
	}
	return nil
}
