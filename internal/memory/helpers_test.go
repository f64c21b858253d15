package memory

import (
	"testing"
	"unsafe"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observedLogger returns a logger that records every entry at debug and above.
func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func messages(logs *observer.ObservedLogs, level zapcore.Level) []string {
	var out []string
	for _, e := range logs.All() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// fill writes a byte pattern across a block so overlapping blocks corrupt
// each other and tests notice.
func fill(p unsafe.Pointer, n uintptr, b byte) {
	s := unsafe.Slice((*byte)(p), n)
	for i := range s {
		s[i] = b
	}
}

func holds(p unsafe.Pointer, n uintptr, b byte) bool {
	s := unsafe.Slice((*byte)(p), n)
	for _, v := range s {
		if v != b {
			return false
		}
	}
	return true
}

func newTestStack(t testing.TB, size, alignment uintptr, opts ...Option) *StackPool {
	t.Helper()
	p, err := NewStackPool(size, alignment, opts...)
	if err != nil {
		t.Fatalf("NewStackPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestChain(t testing.TB, cfg ChainConfig, opts ...Option) *ChainPool {
	t.Helper()
	p, err := NewChainPool(cfg, opts...)
	if err != nil {
		t.Fatalf("NewChainPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}
