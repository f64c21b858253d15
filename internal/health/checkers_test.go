package health

import (
	"context"
	"testing"

	"github.com/lumenforge/lumen/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, cfg memory.PoolConfig) *memory.Pool {
	t.Helper()
	p, err := memory.NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoolChecker_StackHealthy(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindStack, Size: 4096, Alignment: 16})
	require.NotNil(t, p.Allocate(100, 16))

	h := NewPoolChecker("frame", p).Check(context.Background())
	assert.Equal(t, "frame", h.Name)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, "stack", h.Metadata["kind"])
	assert.Equal(t, int64(1), h.Metadata["allocations"])
	assert.Less(t, h.Metadata["peak_ratio"].(float64), DefaultDegradedRatio)
}

func TestPoolChecker_StackDegradedAboveThreshold(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindStack, Size: 4096, Alignment: 16})
	require.NotNil(t, p.Allocate(1024, 16))

	h := NewPoolChecker("frame", p).WithThresholds(0.10, 0.90).Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "stack usage")
}

func TestPoolChecker_StackUnhealthyWhileNearlyFull(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindStack, Size: 4096, Alignment: 16})
	require.NotNil(t, p.Allocate(4000, 16))

	checker := NewPoolChecker("frame", p)
	h := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Contains(t, h.Message, "stack usage")

	// After the reset only the high-water mark remains.
	p.Stack().Reset()
	h = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "stack high-water mark")
	assert.Equal(t, int64(0), h.Metadata["allocations"])
}

func TestPoolChecker_StackExhausted(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindStack, Size: 4096, Alignment: 16})
	assert.Nil(t, p.Allocate(5000, 16))

	h := NewPoolChecker("frame", p).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, "stack pool exhausted until reset", h.Message)
}

func TestPoolChecker_StackRecoversAfterOverflowAndReset(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindStack, Size: 4096, Alignment: 16})
	stack := p.Stack()
	checker := NewPoolChecker("frame", p)

	require.NotNil(t, p.Allocate(64, 16))
	assert.Nil(t, p.Allocate(8192, 16))
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)

	stack.Reset()
	for frame := 0; frame < 3; frame++ {
		require.NotNil(t, p.Allocate(64, 16))
		stack.Reset()
	}

	h := checker.Check(context.Background())
	assert.False(t, stack.Exhausted())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Less(t, h.Metadata["peak_ratio"].(float64), DefaultDegradedRatio)
}

func TestPoolChecker_ChainSaturation(t *testing.T) {
	p := newPool(t, memory.PoolConfig{
		Kind:             memory.KindChain,
		InitialChunkSize: 1024,
		MaxChunkSize:     4096,
		Growth:           memory.GrowthMultiplicative,
		GrowthStep:       2,
		Alignment:        16,
	})
	checker := NewPoolChecker("persistent", p)

	require.NotNil(t, p.Allocate(1000, 16))
	h := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, uintptr(2048), h.Metadata["next_chunk_bytes"])

	require.NotNil(t, p.Allocate(2000, 16))
	h = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, 2, h.Metadata["chunks"])
}

func TestPoolChecker_FixedChainNeverSaturates(t *testing.T) {
	p := newPool(t, memory.PoolConfig{
		Kind:             memory.KindChain,
		InitialChunkSize: 256,
		MaxChunkSize:     256,
		Growth:           memory.GrowthFixed,
		Alignment:        16,
	})
	require.NotNil(t, p.Allocate(256, 16))
	require.NotNil(t, p.Allocate(256, 16))

	h := NewPoolChecker("persistent", p).Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestPoolChecker_HeapAlwaysHealthy(t *testing.T) {
	p := newPool(t, memory.PoolConfig{Kind: memory.KindHeap})
	ptr := p.Allocate(1<<20, 64)
	require.NotNil(t, ptr)
	defer p.Free(ptr)

	h := NewPoolChecker("scratch", p).Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, "heap", h.Metadata["kind"])
}
