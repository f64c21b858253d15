package memory

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/lumenforge/lumen/internal/refcnt"
)

// Allocator binds a shared pool to element type T. It carries no state
// beyond the pool reference and T's layout, so it is cheap to pass by
// value. Copies that should keep the pool alive are made with Clone or
// Rebind; each must be released with Release.
//
// T must be pointer-free: pool memory is not scanned by the garbage
// collector. Binding a type that contains pointers, strings, slices, maps,
// channels, functions or interfaces panics.
type Allocator[T any] struct {
	pool      refcnt.Shared[*Pool]
	elemSize  uintptr
	elemAlign uintptr
}

// NewAllocator takes a shared reference on pool and binds it to T.
func NewAllocator[T any](pool *Pool) Allocator[T] {
	invariant(pool != nil, "allocator bound to nil pool")
	checkElem[T]()
	return bind[T](refcnt.NewShared(pool))
}

func checkElem[T any]() {
	var zero T
	mustBePointerFree(reflect.TypeOf(&zero).Elem())
}

func bind[T any](pool refcnt.Shared[*Pool]) Allocator[T] {
	var zero T
	return Allocator[T]{
		pool:      pool,
		elemSize:  unsafe.Sizeof(zero),
		elemAlign: unsafe.Alignof(zero),
	}
}

// Rebind returns an allocator for U sharing a's pool.
func Rebind[U, T any](a Allocator[T]) Allocator[U] {
	checkElem[U]()
	return bind[U](a.pool.Clone())
}

// Clone returns another counted reference to the same pool.
func (a Allocator[T]) Clone() Allocator[T] {
	a.pool = a.pool.Clone()
	return a
}

// Release drops the pool reference. Releasing the last reference closes
// the pool.
func (a *Allocator[T]) Release() {
	a.pool.Release()
}

// Pool returns the bound pool.
func (a Allocator[T]) Pool() *Pool {
	return a.pool.Get()
}

// Equal reports whether both allocators draw from the same pool.
func (a Allocator[T]) Equal(other Allocator[T]) bool {
	return a.pool.Equal(other.pool)
}

// ElemSize returns the size of T.
func (a Allocator[T]) ElemSize() uintptr {
	return a.elemSize
}

// Allocate reserves storage for n elements of T without initializing it.
// It returns nil if the pool cannot satisfy the request.
func (a Allocator[T]) Allocate(n int) *T {
	invariant(n >= 0, "negative element count %d", n)
	size := a.elemSize * uintptr(n)
	invariant(n == 0 || size/uintptr(n) == a.elemSize, "element count %d overflows", n)
	return (*T)(a.pool.Get().Allocate(size, a.elemAlign))
}

// Deallocate returns storage obtained from Allocate.
func (a Allocator[T]) Deallocate(p *T, n int) {
	if p == nil {
		return
	}
	a.pool.Get().Free(unsafe.Pointer(p))
}

// Construct initializes storage in place.
func (a Allocator[T]) Construct(p *T, v T) {
	*p = v
}

// Destroy runs T's Destroy hook, if any, and zeroes the storage.
func (a Allocator[T]) Destroy(p *T) {
	destroyValue(p)
}

func destroyValue[T any](p *T) {
	if d, ok := any(p).(refcnt.Destroyer); ok {
		d.Destroy()
	}
	var zero T
	*p = zero
}

// NewInstance allocates and constructs a single K from a's pool.
func NewInstance[K, T any](a Allocator[T], v K) *K {
	mustBePointerFree(reflect.TypeOf(&v).Elem())
	p := (*K)(a.pool.Get().Allocate(unsafe.Sizeof(v), unsafe.Alignof(v)))
	if p == nil {
		return nil
	}
	*p = v
	return p
}

// DeleteInstance destroys and frees a K created by NewInstance.
func DeleteInstance[K, T any](a Allocator[T], p *K) {
	if p == nil {
		return
	}
	destroyValue(p)
	a.pool.Get().Free(unsafe.Pointer(p))
}

// NewArray allocates n zero-valued K from a's pool.
func NewArray[K, T any](a Allocator[T], n int) []K {
	var zero K
	return NewArrayOf(a, n, zero)
}

// NewArrayOf allocates n copies of v from a's pool.
func NewArrayOf[K, T any](a Allocator[T], n int, v K) []K {
	invariant(n >= 0, "negative element count %d", n)
	mustBePointerFree(reflect.TypeOf(&v).Elem())
	elem := unsafe.Sizeof(v)
	size := elem * uintptr(n)
	invariant(n == 0 || size/uintptr(n) == elem, "element count %d overflows", n)

	p := (*K)(a.pool.Get().Allocate(size, unsafe.Alignof(v)))
	if p == nil {
		return nil
	}
	s := unsafe.Slice(p, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// DeleteArray destroys every element of s and frees its storage. s must be
// the slice returned by NewArray or NewArrayOf.
func DeleteArray[K, T any](a Allocator[T], s []K) {
	if s == nil {
		return
	}
	for i := range s {
		destroyValue(&s[i])
	}
	a.pool.Get().Free(unsafe.Pointer(unsafe.SliceData(s)))
}

var pointerFreeCache sync.Map // reflect.Type -> bool

func mustBePointerFree(t reflect.Type) {
	invariant(isPointerFree(t), "type %s contains pointers and cannot live in pool memory", t)
}

func isPointerFree(t reflect.Type) bool {
	if v, ok := pointerFreeCache.Load(t); ok {
		return v.(bool)
	}
	free := scanPointerFree(t)
	pointerFreeCache.Store(t, free)
	return free
}

func scanPointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || scanPointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !scanPointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
