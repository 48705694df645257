package handle

import (
	"fmt"
	"sync/atomic"
)

// Arc is an explicitly reference-counted host object. The count starts at
// one; every Clone must be paired with a Release. When the count reaches
// zero the value's Drop method runs, if it has one, and the Arc forgets the
// value so the collector can reclaim it.
type Arc[T any] struct {
	value T
	refs  atomic.Int64
}

// NewArc wraps v with a reference count of one.
func NewArc[T any](v T) *Arc[T] {
	a := &Arc[T]{value: v}
	a.refs.Store(1)
	return a
}

// Clone adds a strong reference and returns the same Arc.
func (a *Arc[T]) Clone() *Arc[T] {
	if a.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("handle: clone of released %T", a.value))
	}
	return a
}

// Release drops one strong reference. It reports whether this was the last
// reference and the value was destroyed. Releasing more times than the
// object was referenced panics.
func (a *Arc[T]) Release() bool {
	n := a.refs.Add(-1)
	switch {
	case n > 0:
		return false
	case n < 0:
		panic(fmt.Sprintf("handle: release of already released %T", a.value))
	}
	if d, ok := any(a.value).(Dropper); ok {
		d.Drop()
	}
	var zero T
	a.value = zero
	return true
}

// StrongCount returns the current number of strong references.
func (a *Arc[T]) StrongCount() int64 {
	return a.refs.Load()
}

// Value returns the wrapped object. It must only be called while holding a
// reference.
func (a *Arc[T]) Value() T {
	return a.value
}

func (a *Arc[T]) incRef() { a.Clone() }

// counted is the untyped view of an Arc the table uses to adjust counts
// while the slot is locked.
type counted interface {
	incRef()
	Release() bool
}
