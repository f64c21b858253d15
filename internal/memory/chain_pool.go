package memory

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/lumenforge/lumen/internal/metrics"
	"go.uber.org/zap"
)

// Growth selects how a chain pool sizes each new chunk.
type Growth uint8

const (
	// GrowthFixed keeps every chunk at the initial size.
	GrowthFixed Growth = iota
	// GrowthAdditive adds the step to the previous chunk size.
	GrowthAdditive
	// GrowthMultiplicative multiplies the previous chunk size by the step.
	GrowthMultiplicative
)

func (g Growth) String() string {
	switch g {
	case GrowthFixed:
		return "fixed"
	case GrowthAdditive:
		return "additive"
	case GrowthMultiplicative:
		return "multiplicative"
	default:
		return fmt.Sprintf("Growth(%d)", uint8(g))
	}
}

// ParseGrowth converts a growth method name.
func ParseGrowth(s string) (Growth, error) {
	switch s {
	case "fixed":
		return GrowthFixed, nil
	case "additive":
		return GrowthAdditive, nil
	case "multiplicative":
		return GrowthMultiplicative, nil
	default:
		return 0, fmt.Errorf("%w: unknown growth method %q", ErrInvalidGrowth, s)
	}
}

// ChainConfig describes a chain pool's chunk policy.
type ChainConfig struct {
	InitialChunkSize uintptr
	MaxChunkSize     uintptr
	Growth           Growth
	GrowthStep       uintptr
	Alignment        uintptr
}

// Validate checks the policy for consistency.
func (c ChainConfig) Validate() error {
	const op = "NewChainPool"
	if err := validateAlignment(op, c.Alignment); err != nil {
		return err
	}
	if c.InitialChunkSize == 0 {
		return invalidParam(op, ErrInvalidSize, "initial_chunk_size", c.InitialChunkSize)
	}
	switch c.Growth {
	case GrowthFixed:
		if c.GrowthStep != 0 || c.InitialChunkSize != c.MaxChunkSize {
			return invalidParam(op, ErrInvalidGrowth, "growth", "fixed growth needs step 0 and initial == max")
		}
	case GrowthAdditive:
		if c.GrowthStep == 0 || c.InitialChunkSize >= c.MaxChunkSize {
			return invalidParam(op, ErrInvalidGrowth, "growth", "additive growth needs step > 0 and initial < max")
		}
	case GrowthMultiplicative:
		if c.GrowthStep < 2 || c.InitialChunkSize >= c.MaxChunkSize {
			return invalidParam(op, ErrInvalidGrowth, "growth", "multiplicative growth needs step >= 2 and initial < max")
		}
	default:
		return invalidParam(op, ErrInvalidGrowth, "growth", c.Growth)
	}
	return nil
}

// chunk is one segment of a chain pool.
type chunk struct {
	mem     *region
	nominal uintptr
	head    uintptr
	allocs  int
	next    *chunk
}

// allocate bumps the chunk head and returns the block and the number of
// bytes the head advanced by.
func (c *chunk) allocate(size, alignment uintptr) (unsafe.Pointer, uintptr) {
	off := AlignUp(alignment, c.mem.base+c.head) - c.mem.base
	if off >= c.mem.size || c.mem.size-off < size {
		return nil, 0
	}
	used := off + size - c.head
	c.head = off + size
	c.allocs++
	return c.mem.at(off), used
}

// ChainPool is an ordered list of chunks. Requests are served from the
// tail chunk; when it is full a new, possibly larger, chunk is appended.
// Individual frees only decrement the owning chunk's counter; a chunk is
// unlinked and released as soon as that counter reaches zero. Chunks are
// never reused.
type ChainPool struct {
	opts options
	cfg  ChainConfig

	mu     sync.Mutex
	first  *chunk
	last   *chunk
	chunks int
	count  int64
	closed bool
}

// NewChainPool creates an empty chain pool.
func NewChainPool(cfg ChainConfig, opts ...Option) (*ChainPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ChainPool{
		opts: applyOptions("chain", opts),
		cfg:  cfg,
	}, nil
}

// NextChunkSize returns the nominal size the next chunk would get.
func (p *ChainPool) NextChunkSize() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextNominal()
}

func (p *ChainPool) nextNominal() uintptr {
	if p.last == nil {
		return p.cfg.InitialChunkSize
	}
	prev := p.last.nominal
	var next uintptr
	switch p.cfg.Growth {
	case GrowthAdditive:
		next = prev + p.cfg.GrowthStep
	case GrowthMultiplicative:
		next = prev * p.cfg.GrowthStep
	default:
		next = p.cfg.InitialChunkSize
	}
	if next > p.cfg.MaxChunkSize || next < prev {
		next = p.cfg.MaxChunkSize
	}
	return next
}

// Allocate returns size bytes aligned to alignment. Requests larger than
// the maximum chunk size are rejected with nil.
func (p *ChainPool) Allocate(size, alignment uintptr) unsafe.Pointer {
	if alignment == 0 {
		alignment = p.cfg.Alignment
	}
	mustPowerOfTwo(alignment)
	align := max(alignment, p.cfg.Alignment)

	if size > p.cfg.MaxChunkSize {
		p.opts.logger.Error("allocation exceeds max chunk size",
			zap.String("pool", p.opts.name),
			zap.Uintptr("size", size),
			zap.Uintptr("max_chunk_size", p.cfg.MaxChunkSize),
		)
		metrics.PoolAllocationsTotal.WithLabelValues(KindChain.String(), "rejected").Inc()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.opts.logger.Error("allocate on closed pool", zap.String("pool", p.opts.name), zap.Uintptr("size", size))
		metrics.PoolAllocationsTotal.WithLabelValues(KindChain.String(), "rejected").Inc()
		return nil
	}

	if p.last != nil {
		if ptr, used := p.last.allocate(size, align); ptr != nil {
			p.allocated(used)
			return ptr
		}
	}

	nominal := p.nextNominal()
	mem, err := newRegion(max(nominal, size)+align, align, p.opts.backing)
	if err != nil {
		p.opts.logger.Error("out of memory",
			zap.String("pool", p.opts.name),
			zap.Uintptr("size", size),
			zap.Error(err),
		)
		metrics.PoolAllocationsTotal.WithLabelValues(KindChain.String(), "exhausted").Inc()
		return nil
	}

	c := &chunk{mem: mem, nominal: nominal}
	if p.last == nil {
		p.first = c
	} else {
		p.last.next = c
	}
	p.last = c
	p.chunks++
	metrics.ChainChunksCreatedTotal.Inc()
	metrics.ChainChunksActive.Inc()
	metrics.ChainChunkBytesTotal.Add(float64(mem.size))
	p.opts.logger.Debug("chunk created",
		zap.String("pool", p.opts.name),
		zap.Uintptr("nominal", nominal),
		zap.Uintptr("size", mem.size),
		zap.Int("chunks", p.chunks),
	)

	ptr, used := c.allocate(size, align)
	invariant(ptr != nil, "chain pool %q: fresh chunk of %d bytes cannot hold %d", p.opts.name, mem.size, size)
	p.allocated(used)
	return ptr
}

func (p *ChainPool) allocated(used uintptr) {
	p.count++
	metrics.PoolAllocationsTotal.WithLabelValues(KindChain.String(), "ok").Inc()
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Add(float64(used))
}

// Free decrements the owning chunk's counter and releases the chunk when
// it empties. Freeing a pointer outside every chunk panics.
func (p *ChainPool) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.opts.logger.Warn("free on closed pool", zap.String("pool", p.opts.name))
		return
	}

	var prev *chunk
	c := p.first
	for c != nil && !c.mem.contains(ptr) {
		prev, c = c, c.next
	}
	invariant(c != nil, "chain pool %q: free of foreign pointer %p", p.opts.name, ptr)
	invariant(c.allocs > 0, "chain pool %q: chunk allocation count underflow", p.opts.name)

	c.allocs--
	p.count--
	metrics.PoolFreesTotal.WithLabelValues(KindChain.String()).Inc()
	if c.allocs > 0 {
		return
	}

	if prev == nil {
		p.first = c.next
	} else {
		prev.next = c.next
	}
	if p.last == c {
		p.last = prev
	}
	p.chunks--
	p.dropChunk(c)
}

func (p *ChainPool) dropChunk(c *chunk) {
	metrics.ChainChunksActive.Dec()
	metrics.PoolBytesInUse.WithLabelValues(p.opts.name).Sub(float64(c.head))
	p.opts.logger.Debug("chunk released",
		zap.String("pool", p.opts.name),
		zap.Uintptr("size", c.mem.size),
		zap.Int("chunks", p.chunks),
	)
	if err := c.mem.release(); err != nil {
		p.opts.logger.Warn("chunk release failed", zap.String("pool", p.opts.name), zap.Error(err))
	}
	c.next = nil
}

// ChunksCount returns the number of live chunks.
func (p *ChainPool) ChunksCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks
}

// AllocatedSize returns the sum of the used bytes of every chunk.
func (p *ChainPool) AllocatedSize() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uintptr
	for c := p.first; c != nil; c = c.next {
		total += c.head
	}
	return total
}

// TotalSize returns the sum of the capacities of every chunk.
func (p *ChainPool) TotalSize() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uintptr
	for c := p.first; c != nil; c = c.next {
		total += c.mem.size
	}
	return total
}

// AllocationCount returns the number of outstanding blocks.
func (p *ChainPool) AllocationCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// MaxChunkSize returns the largest request the pool accepts.
func (p *ChainPool) MaxChunkSize() uintptr {
	return p.cfg.MaxChunkSize
}

// Config returns the pool's chunk policy.
func (p *ChainPool) Config() ChainConfig {
	return p.cfg
}

// Close reports outstanding blocks as a leak and releases every chunk.
func (p *ChainPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.count != 0 {
		p.opts.logger.Warn("pool closed with outstanding allocations",
			zap.String("pool", p.opts.name),
			zap.Int64("outstanding", p.count),
			zap.Int("chunks", p.chunks),
		)
		metrics.PoolLeakedAllocationsTotal.WithLabelValues(KindChain.String()).Add(float64(p.count))
	}
	for c := p.first; c != nil; {
		next := c.next
		p.chunks--
		p.dropChunk(c)
		c = next
	}
	p.first, p.last = nil, nil
	metrics.PoolBytesInUse.DeleteLabelValues(p.opts.name)
	return nil
}
