package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/lumenforge/lumen/internal/config"
	"github.com/lumenforge/lumen/internal/memory"
	"github.com/lumenforge/lumen/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

type transform struct {
	Pos   [3]float32
	Rot   [4]float32
	Scale float32
}

type contact struct {
	A, B  uint32
	Depth float32
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.FramePoolSize = 64 << 10
	cfg.ChainInitialChunk = 4 << 10
	cfg.ChainMaxChunk = 64 << 10
	return &cfg
}

func newTestContext(t *testing.T, cfg *config.Config) (*Context, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := New(cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, logs
}

func warnings(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.FilterLevelExact(zapcore.WarnLevel).All() {
		out = append(out, e.Message)
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FramePoolAlignment = 3
	_, err := New(cfg, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidFramePoolAlignment))
}

func TestFrame_TransientAllocationsResetEachFrame(t *testing.T) {
	c, logs := newTestContext(t, testConfig())
	framesBefore := testutil.ToFloat64(metrics.FramesTotal)

	for i := uint64(1); i <= 3; i++ {
		f := c.BeginFrame()
		assert.Equal(t, i, f.Number())

		tr := FrameNew(f, transform{Scale: float32(i)})
		require.NotNil(t, tr)
		assert.Equal(t, float32(i), tr.Scale)

		contacts := FrameArray[contact](f, 100)
		require.Len(t, contacts, 100)
		contacts[99].Depth = 0.5
		assert.Greater(t, f.Used(), uintptr(100*12))

		c.EndFrame(f)
		assert.Equal(t, uintptr(0), c.FramePool().Stack().AllocatedSize())
		assert.Equal(t, int64(0), c.FramePool().Stack().AllocationCount())
	}

	assert.Equal(t, uint64(3), c.Frames())
	assert.Equal(t, framesBefore+3, testutil.ToFloat64(metrics.FramesTotal))
	// Transient data discarded by the reset is reported once per frame.
	assert.Equal(t, []string{
		"frame ended with live allocations",
		"frame ended with live allocations",
		"frame ended with live allocations",
	}, warnings(logs))
	assert.Greater(t, c.FramePool().Stack().Peak(), uintptr(0))
}

func TestFrame_EarlyFreesLeaveNothingToDiscard(t *testing.T) {
	c, logs := newTestContext(t, testConfig())
	discardedBefore := testutil.ToFloat64(metrics.FrameDiscardedAllocationsTotal)

	f := c.BeginFrame()
	a := FrameNew(f, contact{A: 1})
	b := FrameNew(f, contact{A: 2})
	FrameDelete(f, b)
	FrameDelete(f, a)
	raw := f.Allocate(64, 32)
	require.NotNil(t, raw)
	assert.True(t, memory.IsPointerAligned(32, raw))
	f.Free(raw)
	c.EndFrame(f)

	assert.Empty(t, warnings(logs))
	assert.Equal(t, discardedBefore, testutil.ToFloat64(metrics.FrameDiscardedAllocationsTotal))
}

func TestFrame_ExhaustionReturnsNil(t *testing.T) {
	cfg := testConfig()
	cfg.FramePoolSize = 1024
	c, _ := newTestContext(t, cfg)

	f := c.BeginFrame()
	assert.Nil(t, FrameArray[transform](f, 1000))
	assert.Nil(t, FrameNew(f, transform{}))
	c.EndFrame(f)

	// The next frame starts from an empty pool again.
	f = c.BeginFrame()
	assert.NotNil(t, FrameNew(f, transform{}))
	c.EndFrame(f)
}

func TestFrame_MisusePanics(t *testing.T) {
	c, _ := newTestContext(t, testConfig())

	f := c.BeginFrame()
	assert.Panics(t, func() { c.BeginFrame() }, "nested frame")
	c.EndFrame(f)

	assert.Panics(t, func() { c.EndFrame(f) }, "double end")
	assert.Panics(t, func() { FrameNew(f, contact{}) }, "use after end")
	assert.Panics(t, func() { c.EndFrame(nil) })
}

func TestRunFrames(t *testing.T) {
	c, _ := newTestContext(t, testConfig())

	var seen []uint64
	err := c.RunFrames(context.Background(), 5, func(f *Frame) error {
		seen = append(seen, f.Number())
		FrameArray[float32](f, 256)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, uint64(5), c.Frames())
}

func TestRunFrames_StopsOnError(t *testing.T) {
	c, _ := newTestContext(t, testConfig())
	boom := errors.New("boom")

	err := c.RunFrames(context.Background(), 10, func(f *Frame) error {
		if f.Number() == 3 {
			return boom
		}
		return nil
	})
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "frame 3")
	assert.Equal(t, uint64(3), c.Frames(), "the failing frame is still ended")
}

func TestRunFrames_HonoursCancellation(t *testing.T) {
	c, _ := newTestContext(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	err := c.RunFrames(ctx, 0, func(f *Frame) error {
		if f.Number() == 4 {
			cancel()
		}
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(4), c.Frames())
}

func TestFrame_ConcurrentWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.FrameAllowOutOfOrder = true
	c, _ := newTestContext(t, cfg)

	err := c.RunFrames(context.Background(), 10, func(f *Frame) error {
		var g errgroup.Group
		for w := 0; w < 4; w++ {
			g.Go(func() error {
				for i := 0; i < 50; i++ {
					if FrameNew(f, contact{A: uint32(i)}) == nil {
						return errors.New("frame pool exhausted")
					}
				}
				return nil
			})
		}
		return g.Wait()
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), c.Frames())
}

func TestPersistentAllocatorOutlivesFrames(t *testing.T) {
	c, _ := newTestContext(t, testConfig())
	alloc := PersistentAllocator[transform](c)
	defer alloc.Release()

	kept := memory.NewInstance(alloc, transform{Scale: 2})
	require.NotNil(t, kept)

	require.NoError(t, c.RunFrames(context.Background(), 3, func(f *Frame) error {
		FrameArray[transform](f, 32)
		return nil
	}))
	assert.Equal(t, float32(2), kept.Scale)
	assert.Equal(t, int64(1), c.Persistent().Chain().AllocationCount())

	memory.DeleteInstance(alloc, kept)
	assert.Equal(t, 0, c.Persistent().Chain().ChunksCount())
}

func TestClose_EndsOpenFrameAndKeepsBorrowedPoolAlive(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := New(testConfig(), zap.New(core))
	require.NoError(t, err)

	alloc := PersistentAllocator[contact](c)
	persistent := alloc.Pool()

	f := c.BeginFrame()
	FrameNew(f, contact{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Contains(t, warnings(logs), "engine closed with an open frame")
	assert.Panics(t, func() { c.BeginFrame() })

	// The allocator still holds the persistent pool.
	assert.False(t, persistent.RefBlock().Destroyed())
	assert.NotNil(t, memory.NewInstance(alloc, contact{A: 9}))
	alloc.Release()
	assert.True(t, persistent.RefBlock().Destroyed())
}
