package memory

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestHeapPool_AllocateFreeAnyOrder(t *testing.T) {
	p := NewHeapPool()

	a := p.Allocate(100, 16)
	b := p.Allocate(50, 64)
	c := p.Allocate(0, 8)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)
	assert.True(t, IsPointerAligned(16, a))
	assert.True(t, IsPointerAligned(64, b))
	assert.Equal(t, int64(3), p.AllocationCount())
	assert.Equal(t, uintptr(150), p.AllocatedSize())

	fill(a, 100, 0xAA)
	fill(b, 50, 0xBB)
	assert.True(t, holds(a, 100, 0xAA))

	p.Free(a)
	p.Free(c)
	p.Free(b)
	assert.Equal(t, int64(0), p.AllocationCount())
	assert.Equal(t, uintptr(0), p.AllocatedSize())
}

func TestHeapPool_DefaultAlignment(t *testing.T) {
	p := NewHeapPool()
	ptr := p.Allocate(10, 0)
	require.NotNil(t, ptr)
	assert.True(t, IsPointerAligned(DefaultHeapAlignment, ptr))
	p.Free(ptr)
}

func TestHeapPool_FreeUnknownPanics(t *testing.T) {
	p := NewHeapPool()
	var x [16]byte
	assert.Panics(t, func() { p.Free(unsafe.Pointer(&x)) })

	ptr := p.Allocate(8, 8)
	p.Free(ptr)
	assert.Panics(t, func() { p.Free(ptr) }, "double free")
}

func TestHeapPool_FreeNilIsNoop(t *testing.T) {
	p := NewHeapPool()
	p.Free(nil)
	assert.Equal(t, int64(0), p.AllocationCount())
}

func TestHeapPool_CloseReportsLeak(t *testing.T) {
	logger, logs := observedLogger()
	p := NewHeapPool(WithLogger(logger), WithName("leaky"))

	_ = p.Allocate(32, 8)
	require.NoError(t, p.Close())
	assert.Equal(t, []string{"pool closed with outstanding allocations"}, messages(logs, zapcore.WarnLevel))

	// Closing twice reports once.
	require.NoError(t, p.Close())
	assert.Len(t, messages(logs, zapcore.WarnLevel), 1)

	assert.Nil(t, p.Allocate(8, 8))
	assert.Equal(t, []string{"allocate on closed pool"}, messages(logs, zapcore.ErrorLevel))
}

func TestHeapPool_CloseWithoutLeakIsQuiet(t *testing.T) {
	logger, logs := observedLogger()
	p := NewHeapPool(WithLogger(logger))
	p.Free(p.Allocate(32, 8))
	require.NoError(t, p.Close())
	assert.Empty(t, messages(logs, zapcore.WarnLevel))
}

func TestHeapPool_ImpossibleSizeFails(t *testing.T) {
	logger, logs := observedLogger()
	p := NewHeapPool(WithLogger(logger))
	assert.Nil(t, p.Allocate(^uintptr(0)-4, 16))
	assert.Equal(t, []string{"heap allocation failed"}, messages(logs, zapcore.ErrorLevel))
	assert.Equal(t, int64(0), p.AllocationCount())
}

func TestHeapPool_Concurrent(t *testing.T) {
	p := NewHeapPool()

	const goroutines = 8
	const iterations = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id byte) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				ptr := p.Allocate(64, 32)
				if !IsPointerAligned(32, ptr) {
					t.Errorf("misaligned pointer %p", ptr)
					return
				}
				fill(ptr, 64, id)
				if !holds(ptr, 64, id) {
					t.Errorf("block clobbered")
				}
				p.Free(ptr)
			}
		}(byte(g))
	}
	wg.Wait()

	assert.Equal(t, int64(0), p.AllocationCount())
}

func BenchmarkHeapPool_AllocateFree(b *testing.B) {
	p := NewHeapPool()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Free(p.Allocate(128, 16))
	}
}
