package memory

import (
	"fmt"
	"unsafe"
)

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

func mustPowerOfTwo(alignment uintptr) {
	invariant(IsPowerOfTwo(alignment), "alignment %d is not a power of two", alignment)
}

// AlignUp rounds value up to the next multiple of alignment.
func AlignUp(alignment, value uintptr) uintptr {
	mustPowerOfTwo(alignment)
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to a multiple of alignment.
func AlignDown(alignment, value uintptr) uintptr {
	mustPowerOfTwo(alignment)
	return value &^ (alignment - 1)
}

// IsAligned reports whether value is a multiple of alignment.
func IsAligned(alignment, value uintptr) bool {
	mustPowerOfTwo(alignment)
	return value&(alignment-1) == 0
}

// IsPointerAligned reports whether p is aligned to alignment.
func IsPointerAligned(alignment uintptr, p unsafe.Pointer) bool {
	return IsAligned(alignment, uintptr(p))
}

// invariant panics on a violated invariant. These are programming errors in the
// caller, never runtime conditions.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("memory: "+format, args...))
	}
}
