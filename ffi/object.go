package ffi

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// Object exposes host objects of type T to the foreign side as handles.
type Object[T any] struct {
	rt *Runtime
	m  *handle.Manager[T]
}

// NewObject registers T with the runtime under name.
func NewObject[T any](rt *Runtime, name string) *Object[T] {
	return &Object[T]{rt: rt, m: handle.NewManager[T](rt.handles, name)}
}

// Manager returns the handle manager for T, for converters of records that
// embed objects.
func (o *Object[T]) Manager() *handle.Manager[T] { return o.m }

// Lower hands a new object to the foreign side. After the runtime is
// closed the object is dropped and Lower returns 0.
func (o *Object[T]) Lower(v T) uint64 {
	return uint64(o.m.New(v))
}

// LowerArc moves an existing reference to the foreign side.
func (o *Object[T]) LowerArc(a *handle.Arc[T]) uint64 {
	return uint64(o.m.Lower(a))
}

// LiftArg consumes an owned handle passed as argument name.
func (o *Object[T]) LiftArg(name string, h uint64) (*handle.Arc[T], error) {
	a, err := o.m.Lift(handle.Handle(h))
	if err != nil {
		return nil, errors.LiftArg(name, err)
	}
	return a, nil
}

// Clone is the boundary call behind a foreign copy of a handle.
func (o *Object[T]) Clone(h uint64, status *call.Status) uint64 {
	return call.Do(status, nil, func() (uint64, error) {
		c, err := o.m.Clone(handle.Handle(h))
		if err != nil {
			return 0, errors.LiftArg("handle", err)
		}
		return uint64(c), nil
	})
}

// Free is the boundary call behind a foreign destructor.
func (o *Object[T]) Free(h uint64, status *call.Status) {
	call.Void(status, nil, func() error {
		if err := o.m.Free(handle.Handle(h)); err != nil {
			o.rt.log.Warn("free of invalid handle", zap.String("type", o.m.Name()), zap.Error(err))
			return errors.LiftArg("handle", err)
		}
		return nil
	})
}

// Call runs a method on the object behind h without consuming h. A handle
// that does not resolve is reported as a conversion error of the receiver.
func Call[T, R any](o *Object[T], h uint64, status *call.Status, lowerErr call.ErrorLowerer, fn func(self *handle.Arc[T]) (R, error)) R {
	return call.Do(status, lowerErr, func() (R, error) {
		self, err := o.m.Borrow(handle.Handle(h))
		if err != nil {
			var zero R
			return zero, errors.LiftArg("self", err)
		}
		defer self.Release()
		return fn(self)
	})
}

// Construct runs a constructor and lowers the new object. A failed
// constructor returns handle 0 with the error in status, as does a
// constructor run after the runtime was closed.
func Construct[T any](o *Object[T], status *call.Status, lowerErr call.ErrorLowerer, fn func() (T, error)) uint64 {
	return call.Do(status, lowerErr, func() (uint64, error) {
		v, err := fn()
		if err != nil {
			return 0, err
		}
		h, err := o.m.Store(handle.NewArc(v))
		if err != nil {
			return 0, errors.Wrap(errors.PhaseHandle, errors.KindClosed, err, "lower new "+o.m.Name())
		}
		return uint64(h), nil
	})
}
