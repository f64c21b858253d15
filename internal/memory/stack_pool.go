package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/lumenforge/lumen/internal/metrics"
	"go.uber.org/zap"
)

// stackHeader precedes every stack block. It records the block's effective
// size and the distance from the block start to the user pointer.
type stackHeader struct {
	effective uint64
	pad       uint64
}

const stackHeaderSize = unsafe.Sizeof(stackHeader{})

// Snapshot is a stack pool head position, as an offset from the arena base.
type Snapshot uintptr

// StackPool is a single contiguous arena with an atomically advancing head.
// Blocks must be freed in exactly the reverse order of allocation. A free
// that breaks that order is detected and reported; its bytes stay counted
// as used until the head is rewound by a reset.
type StackPool struct {
	opts      options
	arena     *region
	alignment uintptr
	head      atomic.Uintptr
	count     atomic.Int64
	peak      atomic.Uintptr
	closed    atomic.Bool
}

// NewStackPool creates a stack pool of at least size bytes. The size is
// rounded up to alignment and reserved in one allocation.
func NewStackPool(size, alignment uintptr, opts ...Option) (*StackPool, error) {
	const op = "NewStackPool"
	if err := validateAlignment(op, alignment); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, invalidParam(op, ErrInvalidSize, "size", size)
	}

	o := applyOptions("stack", opts)
	size = AlignUp(alignment, size)
	arena, err := newRegion(size, alignment, o.backing)
	if err != nil {
		return nil, err
	}

	return &StackPool{
		opts:      o,
		arena:     arena,
		alignment: alignment,
	}, nil
}

// Allocate carves size bytes aligned to alignment from the head of the
// arena. It returns nil when the arena is exhausted; the head is parked
// past the end, so the pool keeps failing until it is reset.
func (p *StackPool) Allocate(size, alignment uintptr) unsafe.Pointer {
	if alignment == 0 {
		alignment = p.alignment
	}
	mustPowerOfTwo(alignment)
	if p.closed.Load() {
		p.opts.logger.Error("allocate on closed pool", zap.String("pool", p.opts.name), zap.Uintptr("size", size))
		metrics.PoolAllocationsTotal.WithLabelValues(KindStack.String(), "rejected").Inc()
		return nil
	}

	align := max(alignment, p.alignment)
	headerSpan := AlignUp(p.alignment, stackHeaderSize)
	effective := AlignUp(p.alignment, headerSpan+(align-p.alignment)+size)
	if effective < size || effective > p.arena.size {
		p.saturate()
		return p.exhausted(size, alignment)
	}

	// head never exceeds arena.size+1, so start+effective cannot wrap.
	var start uintptr
	for {
		start = p.head.Load()
		if start > p.arena.size {
			return p.exhausted(size, alignment)
		}
		if start+effective > p.arena.size {
			if p.head.CompareAndSwap(start, p.arena.size+1) {
				return p.exhausted(size, alignment)
			}
			continue
		}
		if p.head.CompareAndSwap(start, start+effective) {
			break
		}
	}
	p.recordPeak(start + effective)

	userOff := AlignUp(align, p.arena.base+start+headerSpan) - p.arena.base
	ptr := p.arena.at(userOff)

	hdr := (*stackHeader)(unsafe.Add(ptr, -int(stackHeaderSize)))
	hdr.effective = uint64(effective)
	hdr.pad = uint64(userOff - start)

	p.count.Add(1)
	metrics.PoolAllocationsTotal.WithLabelValues(KindStack.String(), "ok").Inc()
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Add(float64(effective))
	return ptr
}

// saturate marks the pool exhausted without moving the head past
// arena.size+1.
func (p *StackPool) saturate() {
	for {
		head := p.head.Load()
		if head > p.arena.size || p.head.CompareAndSwap(head, p.arena.size+1) {
			return
		}
	}
}

func (p *StackPool) exhausted(size, alignment uintptr) unsafe.Pointer {
	p.opts.logger.Error("out of memory",
		zap.String("pool", p.opts.name),
		zap.Uintptr("size", size),
		zap.Uintptr("alignment", alignment),
		zap.Uintptr("total", p.arena.size),
	)
	metrics.PoolAllocationsTotal.WithLabelValues(KindStack.String(), "exhausted").Inc()
	return nil
}

// Free returns the most recent block to the pool by rolling the head back.
// If ptr is not the most recent block the head is left alone and, unless
// out-of-order deallocation is allowed, a warning is logged.
func (p *StackPool) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if p.closed.Load() {
		p.opts.logger.Warn("free on closed pool", zap.String("pool", p.opts.name))
		return
	}
	invariant(p.arena.contains(ptr), "stack pool %q: free of foreign pointer %p", p.opts.name, ptr)

	hdr := (*stackHeader)(unsafe.Add(ptr, -int(stackHeaderSize)))
	effective := uintptr(hdr.effective)
	start := p.arena.offset(ptr) - uintptr(hdr.pad)
	invariant(start+effective <= p.arena.size, "stack pool %q: corrupt header at %p", p.opts.name, ptr)

	if !p.head.CompareAndSwap(start+effective, start) {
		metrics.PoolOutOfOrderFreesTotal.Inc()
		if !p.opts.allowOOO {
			p.opts.logger.Warn("out of order deallocation",
				zap.String("pool", p.opts.name),
				zap.Uintptr("offset", start),
				zap.Uintptr("head", p.head.Load()),
			)
		}
	} else {
		metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Sub(float64(effective))
	}
	p.count.Add(-1)
	metrics.PoolFreesTotal.WithLabelValues(KindStack.String()).Inc()
}

// TakeSnapshot returns the current head. The snapshot of an exhausted pool
// is the arena size; rewinding to it leaves the pool full but no longer
// exhausted.
func (p *StackPool) TakeSnapshot() Snapshot {
	return Snapshot(min(p.head.Load(), p.arena.size))
}

// ResetUsingSnapshot forces the head back to s. Blocks allocated after the
// snapshot are discarded without being freed.
func (p *StackPool) ResetUsingSnapshot(s Snapshot) {
	invariant(uintptr(s) <= p.arena.size, "stack pool %q: snapshot %d outside arena of %d bytes", p.opts.name, s, p.arena.size)
	p.head.Store(uintptr(s))
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Set(float64(s))
}

// Reset rewinds the head to the arena base and forgets every outstanding
// block.
func (p *StackPool) Reset() {
	p.ResetUsingSnapshot(0)
	p.count.Store(0)
}

func (p *StackPool) recordPeak(used uintptr) {
	for {
		peak := p.peak.Load()
		if used <= peak || p.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// AllocatedSize returns the bytes between the arena base and the head,
// capped at the arena size. An exhausted pool reports its full size.
func (p *StackPool) AllocatedSize() uintptr {
	return min(p.head.Load(), p.arena.size)
}

// Used is an alias of AllocatedSize.
func (p *StackPool) Used() uintptr {
	return p.AllocatedSize()
}

// Exhausted reports whether a failed allocation parked the head past the
// end since the last reset.
func (p *StackPool) Exhausted() bool {
	return p.head.Load() > p.arena.size
}

// TotalSize returns the arena size.
func (p *StackPool) TotalSize() uintptr {
	return p.arena.size
}

// Alignment returns the arena alignment.
func (p *StackPool) Alignment() uintptr {
	return p.alignment
}

// AllocationCount returns the number of blocks not yet freed or reset.
func (p *StackPool) AllocationCount() int64 {
	return p.count.Load()
}

// Peak returns the highest head position reached by a successful
// allocation. Failed allocations do not count.
func (p *StackPool) Peak() uintptr {
	return p.peak.Load()
}

// Contains reports whether ptr points into the arena.
func (p *StackPool) Contains(ptr unsafe.Pointer) bool {
	return p.arena.contains(ptr)
}

// Close reports outstanding blocks as a leak and releases the arena.
func (p *StackPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := p.count.Load(); n != 0 {
		p.opts.logger.Warn("pool closed with outstanding allocations",
			zap.String("pool", p.opts.name),
			zap.Int64("outstanding", n),
		)
		metrics.PoolLeakedAllocationsTotal.WithLabelValues(KindStack.String()).Add(float64(n))
	}
	metrics.PoolBytesInUse.DeleteLabelValues(p.opts.name)
	if err := p.arena.release(); err != nil {
		p.opts.logger.Warn("arena release failed", zap.String("pool", p.opts.name), zap.Error(err))
		return err
	}
	return nil
}
