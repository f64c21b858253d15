package refcnt

import "github.com/lumenforge/lumen/internal/metrics"

// Shared is a strong handle. The zero value is a null handle.
type Shared[T Ownable] struct {
	ptr T
	cb  *ControlBlock
}

// NewShared takes a strong reference on obj. A zero obj yields a null
// handle. Taking a strong reference on a destroyed object panics.
func NewShared[T Ownable](obj T) Shared[T] {
	var zero T
	if obj == zero {
		return Shared[T]{}
	}
	cb := obj.RefBlock()
	if !cb.tryRetain() {
		panic("refcnt: shared handle taken on destroyed object")
	}
	return Shared[T]{ptr: obj, cb: cb}
}

// MakeShared is NewShared for a freshly constructed object.
func MakeShared[T Ownable](obj T) Shared[T] {
	return NewShared(obj)
}

// Clone returns another counted handle to the same object.
func (s Shared[T]) Clone() Shared[T] {
	if s.cb == nil {
		return Shared[T]{}
	}
	if !s.cb.tryRetain() {
		panic("refcnt: clone of destroyed shared handle")
	}
	return s
}

// Release drops the reference and nulls the handle. Releasing the last
// reference destroys the object. Releasing a null handle is a no-op.
func (s *Shared[T]) Release() {
	if s.cb == nil {
		return
	}
	obj, cb := s.ptr, s.cb
	*s = Shared[T]{}
	if cb.releaseStrong() {
		destroy(obj, cb)
	}
}

// Reset releases the current reference and takes one on obj.
func (s *Shared[T]) Reset(obj T) {
	next := NewShared(obj)
	s.Release()
	*s = next
}

// Assign releases the current reference and clones other into s.
func (s *Shared[T]) Assign(other Shared[T]) {
	next := other.Clone()
	s.Release()
	*s = next
}

// Get returns the object. It panics on a null handle.
func (s Shared[T]) Get() T {
	if s.cb == nil {
		panic("refcnt: dereference of null shared handle")
	}
	return s.ptr
}

// Raw returns the object or the zero value without asserting.
func (s Shared[T]) Raw() T {
	return s.ptr
}

// IsNull reports whether the handle references nothing.
func (s Shared[T]) IsNull() bool {
	return s.cb == nil
}

// Equal reports whether both handles reference the same object.
func (s Shared[T]) Equal(other Shared[T]) bool {
	return s.ptr == other.ptr
}

// Refs returns the strong count, or 0 for a null handle.
func (s Shared[T]) Refs() int64 {
	if s.cb == nil {
		return 0
	}
	return s.cb.Refs()
}

// WeakRefs returns the weak count, or 0 for a null handle.
func (s Shared[T]) WeakRefs() int64 {
	if s.cb == nil {
		return 0
	}
	return s.cb.WeakRefs()
}

// Weak returns a weak handle observing the same object.
func (s Shared[T]) Weak() Weak[T] {
	if s.cb == nil {
		return Weak[T]{}
	}
	s.cb.retainWeak()
	return Weak[T]{ptr: s.ptr, cb: s.cb}
}

// Weak is an observing handle. The zero value is a null handle.
type Weak[T Ownable] struct {
	ptr T
	cb  *ControlBlock
}

// NewWeak takes a weak reference on obj. The object need not have any
// strong references yet.
func NewWeak[T Ownable](obj T) Weak[T] {
	var zero T
	if obj == zero {
		return Weak[T]{}
	}
	cb := obj.RefBlock()
	cb.retainWeak()
	return Weak[T]{ptr: obj, cb: cb}
}

// Clone returns another counted weak handle.
func (w Weak[T]) Clone() Weak[T] {
	if w.cb == nil {
		return Weak[T]{}
	}
	w.cb.retainWeak()
	return w
}

// Release drops the weak reference and nulls the handle.
func (w *Weak[T]) Release() {
	if w.cb == nil {
		return
	}
	cb := w.cb
	*w = Weak[T]{}
	cb.releaseWeak()
}

// Lock upgrades to a Shared handle. The result is null iff the object has
// been destroyed or the handle is null.
func (w Weak[T]) Lock() Shared[T] {
	if w.cb == nil {
		return Shared[T]{}
	}
	if !w.cb.tryRetain() {
		metrics.RefcntLockFailuresTotal.Inc()
		return Shared[T]{}
	}
	return Shared[T]{ptr: w.ptr, cb: w.cb}
}

// Expired reports whether the object has been destroyed. A null handle is
// expired.
func (w Weak[T]) Expired() bool {
	return w.cb == nil || w.cb.Destroyed()
}

// IsNull reports whether the handle references nothing.
func (w Weak[T]) IsNull() bool {
	return w.cb == nil
}

// Equal reports whether both handles reference the same object.
func (w Weak[T]) Equal(other Weak[T]) bool {
	return w.ptr == other.ptr
}

// Refs returns the strong count of the observed object.
func (w Weak[T]) Refs() int64 {
	if w.cb == nil {
		return 0
	}
	return w.cb.Refs()
}

// WeakRefs returns the weak count of the observed object.
func (w Weak[T]) WeakRefs() int64 {
	if w.cb == nil {
		return 0
	}
	return w.cb.WeakRefs()
}

// Block exposes the control block for diagnostics.
func (w Weak[T]) Block() *ControlBlock {
	return w.cb
}
