// Package refcnt implements intrusive shared/weak ownership.
//
// An ownable type embeds Object. The first handle taken on the object
// attaches a ControlBlock holding a strong and a weak counter. Shared
// handles keep the object alive; Weak handles observe it and can be
// upgraded with Lock while it has not been destroyed. The object's
// Destroy hook (see Destroyer) runs exactly once, when the last Shared
// handle is released.
//
// Handles are plain values. Go has no copy constructors, so copies that
// should count are made with Clone, and every counted handle must be
// released with Release.
package refcnt

import (
	"fmt"
	"sync/atomic"

	"github.com/lumenforge/lumen/internal/metrics"
)

// State is the lifecycle state of a control block.
type State uint8

const (
	// StateAlive means the object has not been destroyed.
	StateAlive State = iota
	// StateDestroyed means the strong count reached zero and the object's
	// Destroy hook has run. Weak handles may still reference the block.
	StateDestroyed
	// StateReleased means the weak count reached zero as well.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDestroyed:
		return "destroyed"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// destroyedBit marks the strong word as destroyed. The count and the flag
// share one word so that Lock and the final Release cannot interleave.
const destroyedBit = uint64(1) << 63

// ControlBlock carries the counters of one ownable object.
//
// weak counts outstanding Weak handles plus one implicit reference held on
// behalf of the object itself until it is destroyed.
type ControlBlock struct {
	strong   atomic.Uint64
	weak     atomic.Int64
	released atomic.Bool
}

func newControlBlock() *ControlBlock {
	cb := &ControlBlock{}
	cb.weak.Store(1)
	metrics.RefcntControlBlocksCreatedTotal.Inc()
	return cb
}

// State reports the lifecycle state.
func (cb *ControlBlock) State() State {
	if cb.released.Load() {
		return StateReleased
	}
	if cb.strong.Load()&destroyedBit != 0 {
		return StateDestroyed
	}
	return StateAlive
}

// Refs returns the number of live Shared handles. It is zero once the
// object has been destroyed.
func (cb *ControlBlock) Refs() int64 {
	return int64(cb.strong.Load() &^ destroyedBit)
}

// WeakRefs returns the number of live Weak handles, not counting the
// implicit reference held by a live object.
func (cb *ControlBlock) WeakRefs() int64 {
	n := cb.weak.Load()
	if cb.strong.Load()&destroyedBit == 0 {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// Destroyed reports whether the strong count has hit its sentinel.
func (cb *ControlBlock) Destroyed() bool {
	return cb.strong.Load()&destroyedBit != 0
}

// tryRetain adds a strong reference unless the object was destroyed.
func (cb *ControlBlock) tryRetain() bool {
	for {
		v := cb.strong.Load()
		if v&destroyedBit != 0 {
			return false
		}
		if cb.strong.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// releaseStrong drops a strong reference and reports whether it was the
// last one, in which case the block is now in the destroyed state.
func (cb *ControlBlock) releaseStrong() bool {
	for {
		v := cb.strong.Load()
		if v&destroyedBit != 0 || v == 0 {
			panic(fmt.Sprintf("refcnt: release of unheld strong reference (word %#x)", v))
		}
		next := v - 1
		if next == 0 {
			next = destroyedBit
		}
		if cb.strong.CompareAndSwap(v, next) {
			return next == destroyedBit
		}
	}
}

func (cb *ControlBlock) retainWeak() {
	if n := cb.weak.Add(1); n < 2 {
		panic(fmt.Sprintf("refcnt: weak retain on released control block: weak %d", n))
	}
}

func (cb *ControlBlock) releaseWeak() {
	n := cb.weak.Add(-1)
	switch {
	case n == 0:
		cb.released.Store(true)
		metrics.RefcntControlBlocksReleasedTotal.Inc()
	case n < 0:
		panic(fmt.Sprintf("refcnt: weak count went negative: %d", n))
	}
}

// Object is embedded by ownable types. The zero value is ready to use; the
// control block is attached on first use.
type Object struct {
	cb atomic.Pointer[ControlBlock]
}

// RefBlock returns the object's control block, attaching one if needed.
func (o *Object) RefBlock() *ControlBlock {
	if cb := o.cb.Load(); cb != nil {
		return cb
	}
	cb := newControlBlock()
	if o.cb.CompareAndSwap(nil, cb) {
		return cb
	}
	return o.cb.Load()
}

// Ownable is satisfied by pointers to types embedding Object.
type Ownable interface {
	comparable
	RefBlock() *ControlBlock
}

// Destroyer is implemented by ownable objects that need teardown when the
// last Shared handle goes away.
type Destroyer interface {
	Destroy()
}

// destroy runs the object's hook and drops the implicit weak reference.
func destroy[T Ownable](obj T, cb *ControlBlock) {
	if d, ok := any(obj).(Destroyer); ok {
		d.Destroy()
	}
	metrics.RefcntObjectsDestroyedTotal.Inc()
	cb.releaseWeak()
}
