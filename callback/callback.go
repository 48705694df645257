package callback

import (
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// Method is one foreign method as seen by the host. handle identifies the
// foreign object, args is the serialized argument list and ownership of it
// passes to the method. The method writes its serialized result to out and
// its outcome to status.
type Method func(handle uint64, args buffer.Buffer, out *buffer.Buffer, status *call.Status)

// VTable is the table of methods a foreign implementation registers for one
// interface. Free releases the foreign object behind a handle.
type VTable struct {
	Free    func(handle uint64)
	Methods []Method
}

// Registry holds the vtables registered with a runtime, keyed by interface
// name. Each interface is registered once.
type Registry struct {
	tables map[string]*VTable
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*VTable)}
}

// Register installs vt for the named interface.
func (r *Registry) Register(name string, vt VTable) error {
	if vt.Free == nil {
		return errors.Registration(errors.PhaseCall, name, errors.InvalidInput(errors.PhaseCall, "vtable without free"))
	}
	for i, m := range vt.Methods {
		if m == nil {
			return errors.Registration(errors.PhaseCall, name,
				errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("method %d is nil", i)))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; ok {
		return errors.Registration(errors.PhaseCall, name,
			errors.InvalidInput(errors.PhaseCall, "already registered"))
	}
	r.tables[name] = &vt
	return nil
}

// Lookup returns the vtable registered for name.
func (r *Registry) Lookup(name string) (*VTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vt, ok := r.tables[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "callback interface", name)
	}
	return vt, nil
}

// Proxy wraps the foreign object behind handle using the vtable registered
// for name. The proxy owns the handle.
func (r *Registry) Proxy(name string, handle uint64) (*Proxy, error) {
	vt, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Proxy{vt: vt, name: name, handle: handle}, nil
}

// Proxy is the host-side stand-in for one foreign object. Close waits for
// calls in flight before the foreign object is freed, so a method must not
// close its own proxy.
type Proxy struct {
	vt     *VTable
	name   string
	handle uint64
	calls  sync.RWMutex
	closed atomix.Uint32
}

// Name returns the interface name.
func (p *Proxy) Name() string { return p.name }

// Handle returns the foreign handle.
func (p *Proxy) Handle() uint64 { return p.handle }

// Invoke calls method with serialized args and returns the serialized
// result. Errors are those of call.Check; use InvokeChecked for methods with
// a domain error type. args is consumed in all cases.
func (p *Proxy) Invoke(method int, args buffer.Buffer) (buffer.Buffer, error) {
	return p.InvokeChecked(method, args, call.Check)
}

// InvokeChecked is Invoke with a caller-provided status check, typically a
// closure over call.CheckDomain.
func (p *Proxy) InvokeChecked(method int, args buffer.Buffer, check func(*call.Status) error) (out buffer.Buffer, err error) {
	p.calls.RLock()
	defer p.calls.RUnlock()
	if p.closed.Add(0) != 0 {
		buffer.Free(args)
		return buffer.Buffer{}, errors.New(errors.PhaseCall, errors.KindClosed).
			Detail("%s proxy %#x is closed", p.name, p.handle).
			Build()
	}
	if method < 0 || method >= len(p.vt.Methods) {
		buffer.Free(args)
		return buffer.Buffer{}, errors.InvalidInput(errors.PhaseCall,
			fmt.Sprintf("%s has no method %d", p.name, method))
	}

	var status call.Status
	defer func() {
		if r := recover(); r != nil {
			buffer.Free(out)
			buffer.Free(status.ErrorBuf)
			msg := call.PanicMessage(r)
			call.Logger().Warn("contained panic in callback method", zap.String("interface", p.name), zap.String("panic", msg))
			out, err = buffer.Buffer{}, &call.UnexpectedError{Message: msg}
		}
	}()

	p.vt.Methods[method](p.handle, args, &out, &status)
	if cerr := check(&status); cerr != nil {
		buffer.Free(out)
		return buffer.Buffer{}, cerr
	}
	return out, nil
}

// Close releases the foreign object once no call is in flight. Only the
// first call has an effect.
func (p *Proxy) Close() error {
	if p.closed.Add(1) != 1 {
		return nil
	}
	// drain calls that passed the closed check
	p.calls.Lock()
	p.calls.Unlock()
	p.vt.Free(p.handle)
	return nil
}

// Domain returns a status check that decodes domain errors of type E.
func Domain[E error](conv codec.Converter[E]) func(*call.Status) error {
	return func(status *call.Status) error {
		return call.CheckDomain[E](status, conv)
	}
}

// InvokeTyped lowers arg with argConv, invokes method and lifts the result
// with resConv. check may be nil for methods without a domain error type.
func InvokeTyped[A, R any](p *Proxy, method int, argConv codec.Converter[A], arg A, resConv codec.Converter[R], check func(*call.Status) error) (R, error) {
	if check == nil {
		check = call.Check
	}
	out, err := p.InvokeChecked(method, codec.Lower(argConv, arg), check)
	if err != nil {
		var zero R
		return zero, err
	}
	return codec.Lift(resConv, out)
}
