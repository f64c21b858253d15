package memory

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestAlignUpDown(t *testing.T) {
	tests := []struct {
		alignment, value, up, down uintptr
	}{
		{1, 0, 0, 0},
		{1, 7, 7, 7},
		{8, 0, 0, 0},
		{8, 1, 8, 0},
		{8, 8, 8, 8},
		{8, 9, 16, 8},
		{16, 100, 112, 96},
		{4096, 5000, 8192, 4096},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.up, AlignUp(tt.alignment, tt.value), "AlignUp(%d, %d)", tt.alignment, tt.value)
		assert.Equal(t, tt.down, AlignDown(tt.alignment, tt.value), "AlignDown(%d, %d)", tt.alignment, tt.value)
	}
}

func TestIsAligned(t *testing.T) {
	assert.True(t, IsAligned(16, 0))
	assert.True(t, IsAligned(16, 32))
	assert.False(t, IsAligned(16, 24))
	assert.True(t, IsAligned(1, 13))
}

func TestAlignment_NonPowerOfTwoPanics(t *testing.T) {
	assert.Panics(t, func() { AlignUp(0, 10) })
	assert.Panics(t, func() { AlignDown(12, 10) })
	assert.Panics(t, func() { IsAligned(3, 9) })
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uintptr{1, 2, 4, 64, 1 << 20} {
		assert.True(t, IsPowerOfTwo(v), "%d", v)
	}
	for _, v := range []uintptr{0, 3, 6, 12, 1000} {
		assert.False(t, IsPowerOfTwo(v), "%d", v)
	}
}

func TestAlignmentProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("round up is the smallest aligned value >= v", prop.ForAll(
		func(shift uint, v uint32) bool {
			a := uintptr(1) << shift
			up := AlignUp(a, uintptr(v))
			return IsAligned(a, up) && up >= uintptr(v) && up-uintptr(v) < a
		},
		gen.UIntRange(0, 12),
		gen.UInt32(),
	))

	properties.Property("round down is the largest aligned value <= v", prop.ForAll(
		func(shift uint, v uint32) bool {
			a := uintptr(1) << shift
			down := AlignDown(a, uintptr(v))
			return IsAligned(a, down) && down <= uintptr(v) && uintptr(v)-down < a
		},
		gen.UIntRange(0, 12),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
