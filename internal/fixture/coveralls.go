// Package fixture holds host objects used to exercise the runtime end to
// end in tests.
package fixture

import (
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/handle"
)

// Alive counts live Coveralls.
type Alive struct {
	n atomix.Uint32
}

func (a *Alive) inc() { a.n.Add(1) }

func (a *Alive) dec() { a.n.Add(^uint32(0)) }

// Count returns the number of live objects.
func (a *Alive) Count() int { return int(a.n.Add(0)) }

// CoverallError is the domain error of Coveralls methods.
type CoverallError struct {
	Reason string
	Code   int32
}

func (e *CoverallError) Error() string { return e.Reason }

// ErrTooManyHoles is returned by the fallible operations.
var ErrTooManyHoles = &CoverallError{Code: 1, Reason: "The coverall has too many holes"}

// ErrorConv serializes CoverallError.
var ErrorConv = codec.Funcs[*CoverallError]{
	WriteFunc: func(w *codec.Writer, e *CoverallError) {
		codec.Int32.Write(w, e.Code)
		codec.String.Write(w, e.Reason)
	},
	ReadFunc: func(r *codec.Reader) (*CoverallError, error) {
		code, err := codec.Int32.Read(r)
		if err != nil {
			return nil, err
		}
		reason, err := codec.String.Read(r)
		if err != nil {
			return nil, err
		}
		return &CoverallError{Code: code, Reason: reason}, nil
	},
}

// Coveralls is a named object that can hold a reference to another one,
// itself included.
type Coveralls struct {
	alive *Alive
	other *handle.Arc[*Coveralls]
	name  string
	mu    sync.Mutex
}

// NewCoveralls creates a live object counted by alive.
func NewCoveralls(alive *Alive, name string) *Coveralls {
	alive.inc()
	return &Coveralls{alive: alive, name: name}
}

// FallibleNew creates an object unless fail is set.
func FallibleNew(alive *Alive, name string, fail bool) (*Coveralls, error) {
	if fail {
		return nil, ErrTooManyHoles
	}
	return NewCoveralls(alive, name), nil
}

// PanickingNew never returns.
func PanickingNew(message string) *Coveralls {
	panic(message)
}

// Name returns the object's name.
func (c *Coveralls) Name() string { return c.name }

// MaybeThrow fails when asked to.
func (c *Coveralls) MaybeThrow(shouldThrow bool) (bool, error) {
	if shouldThrow {
		return false, ErrTooManyHoles
	}
	return true, nil
}

// Panic panics with message.
func (c *Coveralls) Panic(message string) {
	panic(message)
}

// TakeOther stores other, which may be nil, taking over the caller's
// reference. The previously stored reference is released.
func (c *Coveralls) TakeOther(other *handle.Arc[*Coveralls]) {
	c.mu.Lock()
	prev := c.other
	c.other = other
	c.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// Other returns a new reference to the stored object, or nil.
func (c *Coveralls) Other() *handle.Arc[*Coveralls] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.other == nil {
		return nil
	}
	return c.other.Clone()
}

// CloneMe returns a new object with the same name and other.
func (c *Coveralls) CloneMe() *Coveralls {
	n := NewCoveralls(c.alive, c.name)
	if o := c.Other(); o != nil {
		n.other = o
	}
	return n
}

// Drop implements handle.Dropper.
func (c *Coveralls) Drop() {
	c.TakeOther(nil)
	c.alive.dec()
}
