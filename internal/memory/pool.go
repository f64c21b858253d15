package memory

import (
	"fmt"
	"unsafe"

	"github.com/lumenforge/lumen/internal/refcnt"
)

// PoolKind tags the strategy behind a Pool.
type PoolKind uint8

const (
	KindHeap PoolKind = iota
	KindStack
	KindChain
)

func (k PoolKind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindStack:
		return "stack"
	case KindChain:
		return "chain"
	default:
		return fmt.Sprintf("PoolKind(%d)", uint8(k))
	}
}

// ParsePoolKind converts a strategy name.
func ParsePoolKind(s string) (PoolKind, error) {
	switch s {
	case "heap":
		return KindHeap, nil
	case "stack":
		return KindStack, nil
	case "chain":
		return KindChain, nil
	default:
		return 0, fmt.Errorf("unknown pool kind %q", s)
	}
}

// Pool is one of the three allocation strategies behind a single
// Allocate/Free entry point. Exactly one of heap, stack and chain is set,
// selected by kind.
//
// Pool is ownable: typed allocators share it through refcnt.Shared and the
// pool closes itself when the last shared reference is released.
type Pool struct {
	refcnt.Object

	kind  PoolKind
	heap  *HeapPool
	stack *StackPool
	chain *ChainPool
}

// FromHeap wraps a heap pool.
func FromHeap(h *HeapPool) *Pool {
	return &Pool{kind: KindHeap, heap: h}
}

// FromStack wraps a stack pool.
func FromStack(s *StackPool) *Pool {
	return &Pool{kind: KindStack, stack: s}
}

// FromChain wraps a chain pool.
func FromChain(c *ChainPool) *Pool {
	return &Pool{kind: KindChain, chain: c}
}

// PoolConfig describes a pool of any strategy.
type PoolConfig struct {
	Kind PoolKind
	// Size is the stack arena size.
	Size uintptr
	// Alignment is the minimum alignment of every block.
	Alignment uintptr
	// Chain pool policy.
	InitialChunkSize uintptr
	MaxChunkSize     uintptr
	Growth           Growth
	GrowthStep       uintptr
}

// NewPool builds a pool from cfg.
func NewPool(cfg PoolConfig, opts ...Option) (*Pool, error) {
	switch cfg.Kind {
	case KindHeap:
		return FromHeap(NewHeapPool(opts...)), nil
	case KindStack:
		s, err := NewStackPool(cfg.Size, cfg.Alignment, opts...)
		if err != nil {
			return nil, err
		}
		return FromStack(s), nil
	case KindChain:
		c, err := NewChainPool(ChainConfig{
			InitialChunkSize: cfg.InitialChunkSize,
			MaxChunkSize:     cfg.MaxChunkSize,
			Growth:           cfg.Growth,
			GrowthStep:       cfg.GrowthStep,
			Alignment:        cfg.Alignment,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return FromChain(c), nil
	default:
		return nil, invalidParam("NewPool", fmt.Errorf("unknown pool kind %d", cfg.Kind), "kind", cfg.Kind)
	}
}

// Kind returns the strategy tag.
func (p *Pool) Kind() PoolKind {
	return p.kind
}

// Allocate returns size bytes aligned to alignment, or nil.
func (p *Pool) Allocate(size, alignment uintptr) unsafe.Pointer {
	switch p.kind {
	case KindHeap:
		return p.heap.Allocate(size, alignment)
	case KindStack:
		return p.stack.Allocate(size, alignment)
	case KindChain:
		return p.chain.Allocate(size, alignment)
	}
	panic(fmt.Sprintf("memory: unknown pool kind %d", p.kind))
}

// Free returns a block to the pool.
func (p *Pool) Free(ptr unsafe.Pointer) {
	switch p.kind {
	case KindHeap:
		p.heap.Free(ptr)
	case KindStack:
		p.stack.Free(ptr)
	case KindChain:
		p.chain.Free(ptr)
	default:
		panic(fmt.Sprintf("memory: unknown pool kind %d", p.kind))
	}
}

// Close releases the pool's memory, reporting outstanding blocks.
func (p *Pool) Close() error {
	switch p.kind {
	case KindHeap:
		return p.heap.Close()
	case KindStack:
		return p.stack.Close()
	case KindChain:
		return p.chain.Close()
	}
	return nil
}

// Destroy closes the pool when its last shared reference is released.
func (p *Pool) Destroy() {
	_ = p.Close()
}

// Heap returns the heap strategy, or nil.
func (p *Pool) Heap() *HeapPool { return p.heap }

// Stack returns the stack strategy, or nil.
func (p *Pool) Stack() *StackPool { return p.stack }

// Chain returns the chain strategy, or nil.
func (p *Pool) Chain() *ChainPool { return p.chain }

// PoolStats is a point-in-time view of a pool for telemetry.
type PoolStats struct {
	Kind            PoolKind
	Name            string
	AllocationCount int64
	AllocatedBytes  uintptr
	TotalBytes      uintptr
	Chunks          int
}

// Stats returns the pool's current counters.
func (p *Pool) Stats() PoolStats {
	st := PoolStats{Kind: p.kind}
	switch p.kind {
	case KindHeap:
		st.Name = p.heap.opts.name
		st.AllocationCount = p.heap.AllocationCount()
		st.AllocatedBytes = p.heap.AllocatedSize()
		st.TotalBytes = st.AllocatedBytes
	case KindStack:
		st.Name = p.stack.opts.name
		st.AllocationCount = p.stack.AllocationCount()
		st.AllocatedBytes = p.stack.AllocatedSize()
		st.TotalBytes = p.stack.TotalSize()
	case KindChain:
		st.Name = p.chain.opts.name
		st.AllocationCount = p.chain.AllocationCount()
		st.AllocatedBytes = p.chain.AllocatedSize()
		st.TotalBytes = p.chain.TotalSize()
		st.Chunks = p.chain.ChunksCount()
	}
	return st
}
