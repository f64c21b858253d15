// Package engine ties the memory pools to a simulation loop. A Context owns
// a stack pool that is rewound at the end of every frame and a chain pool
// for data that outlives a frame.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenforge/lumen/internal/config"
	"github.com/lumenforge/lumen/internal/memory"
	"github.com/lumenforge/lumen/internal/metrics"
	"github.com/lumenforge/lumen/internal/refcnt"
	"go.uber.org/zap"
)

// Context owns the engine's frame and persistent pools.
type Context struct {
	logger *zap.Logger

	frame      refcnt.Shared[*memory.Pool]
	persistent refcnt.Shared[*memory.Pool]

	mu      sync.Mutex
	current *Frame
	frames  uint64
	closed  bool
}

// New builds the frame stack pool and the persistent chain pool described
// by cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	frame, err := memory.NewPool(cfg.FramePoolConfig(), cfg.StackOptions(logger)...)
	if err != nil {
		return nil, err
	}
	persistent, err := memory.NewPool(cfg.ChainPoolConfig(), cfg.ChainOptions(logger)...)
	if err != nil {
		_ = frame.Close()
		return nil, err
	}

	logger.Info("engine context created",
		zap.Uint64("frame_pool_size", cfg.FramePoolSize),
		zap.Uint64("chain_max_chunk", cfg.ChainMaxChunk),
		zap.String("chain_growth", cfg.ChainGrowth),
	)
	return &Context{
		logger:     logger,
		frame:      refcnt.MakeShared(frame),
		persistent: refcnt.MakeShared(persistent),
	}, nil
}

// FramePool returns the per-frame stack pool.
func (c *Context) FramePool() *memory.Pool {
	return c.frame.Get()
}

// Persistent returns the chain pool for data that outlives a frame.
func (c *Context) Persistent() *memory.Pool {
	return c.persistent.Get()
}

// PersistentAllocator binds T to the persistent pool. The caller releases
// the allocator; the pool stays alive until it does, even past Close.
func PersistentAllocator[T any](c *Context) memory.Allocator[T] {
	return memory.NewAllocator[T](c.Persistent())
}

// Frames returns the number of completed frames.
func (c *Context) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// BeginFrame opens the next frame. Only one frame may be open at a time.
func (c *Context) BeginFrame() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		panic("engine: BeginFrame on closed context")
	}
	if c.current != nil {
		panic(fmt.Sprintf("engine: BeginFrame while frame %d is open", c.current.number))
	}

	pool := c.frame.Get()
	f := &Frame{
		number: c.frames + 1,
		alloc:  memory.NewAllocator[byte](pool),
		stack:  pool.Stack(),
		began:  time.Now(),
	}
	f.start = f.stack.TakeSnapshot()
	c.current = f
	return f
}

// EndFrame closes f and rewinds the frame pool. Transient allocations still
// live at this point are counted, reported and discarded.
func (c *Context) EndFrame(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f == nil || c.current != f {
		panic("engine: EndFrame of a frame that is not open")
	}
	c.endFrame(f)
}

func (c *Context) endFrame(f *Frame) {
	used := f.stack.AllocatedSize()
	if live := f.stack.AllocationCount(); live > 0 {
		c.logger.Warn("frame ended with live allocations",
			zap.Uint64("frame", f.number),
			zap.Int64("outstanding", live),
		)
		metrics.FrameDiscardedAllocationsTotal.Add(float64(live))
	}

	f.stack.Reset()
	f.alloc.Release()
	f.ended = true

	elapsed := time.Since(f.began)
	metrics.FramesTotal.Inc()
	metrics.FrameBytesUsed.Observe(float64(used))
	metrics.FramePeakBytes.Set(float64(f.stack.Peak()))
	metrics.FrameDurationSeconds.Observe(elapsed.Seconds())
	c.logger.Debug("frame ended",
		zap.Uint64("frame", f.number),
		zap.Uintptr("used", used),
		zap.Duration("elapsed", elapsed),
	)

	c.frames = f.number
	c.current = nil
}

// RunFrames runs fn once per frame, n times, or until ctx is cancelled
// when n is zero. The frame is always ended, even when fn fails.
func (c *Context) RunFrames(ctx context.Context, n uint64, fn func(*Frame) error) error {
	for i := uint64(0); n == 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := c.BeginFrame()
		err := fn(f)
		c.EndFrame(f)
		if err != nil {
			return fmt.Errorf("frame %d: %w", f.number, err)
		}
	}
	return nil
}

// Close ends any open frame and drops the context's pool references.
// Pools close once every allocator bound to them is released as well.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.current != nil {
		c.logger.Warn("engine closed with an open frame", zap.Uint64("frame", c.current.number))
		c.endFrame(c.current)
	}
	c.frame.Release()
	c.persistent.Release()
	c.logger.Info("engine context closed", zap.Uint64("frames", c.frames))
	return nil
}
