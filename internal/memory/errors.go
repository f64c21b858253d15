package memory

import (
	"errors"

	lerrors "github.com/lumenforge/lumen/internal/errors"
)

// Common errors
var (
	ErrInvalidAlignment = errors.New("alignment must be a power of two")
	ErrInvalidSize      = errors.New("size must be positive")
	ErrInvalidGrowth    = errors.New("invalid chunk growth policy")
	ErrPoolClosed       = errors.New("pool is closed")
)

func invalidParam(op string, cause error, key string, value any) error {
	return lerrors.WrapValidationError(cause, op, "invalid pool parameter").WithContext(key, value)
}

func validateAlignment(op string, alignment uintptr) error {
	if !IsPowerOfTwo(alignment) {
		return invalidParam(op, ErrInvalidAlignment, "alignment", alignment)
	}
	return nil
}
