package handle

import (
	"fmt"

	"github.com/wippyai/ffi-runtime/codec"
)

// Manager converts reference-counted objects of one type to and from
// handles stored in a Table.
//
// A handle stands for exactly one strong reference. Lower moves a reference
// into the table, Clone adds one, and Lift or Free settle one. Every issued
// handle must be settled exactly once.
type Manager[T any] struct {
	table  *Table
	name   string
	typeID uint32
}

// NewManager registers T with table under name.
func NewManager[T any](table *Table, name string) *Manager[T] {
	if name == "" {
		name = fmt.Sprintf("%T", *new(T))
	}
	return &Manager[T]{
		table:  table,
		name:   name,
		typeID: table.RegisterType(name),
	}
}

// Name returns the registered type name.
func (m *Manager[T]) Name() string { return m.name }

// Table returns the underlying table.
func (m *Manager[T]) Table() *Table { return m.table }

// Lower moves the caller's reference on a into a new handle. The reference
// count does not change. Lowering into a closed table releases the reference
// and returns 0; use Store to see the error.
func (m *Manager[T]) Lower(a *Arc[T]) Handle {
	h, _ := m.Store(a)
	return h
}

// Store is Lower reporting failure. On error the reference has been
// released and the handle is 0.
func (m *Manager[T]) Store(a *Arc[T]) (Handle, error) {
	h, err := m.table.Insert(m.typeID, a)
	if err != nil {
		a.Release()
		return 0, err
	}
	return h, nil
}

// New wraps v in an Arc and lowers it.
func (m *Manager[T]) New(v T) Handle {
	return m.Lower(NewArc(v))
}

// Clone adds a strong reference to the object behind h. The returned handle
// aliases h and must be settled separately.
func (m *Manager[T]) Clone(h Handle) (Handle, error) {
	if _, err := m.table.Retain(h, m.typeID); err != nil {
		return 0, err
	}
	return h, nil
}

// Lift consumes h and returns the reference it stood for. The reference
// count does not change; the caller now owns that reference.
func (m *Manager[T]) Lift(h Handle) (*Arc[T], error) {
	v, err := m.table.Take(h, m.typeID)
	if err != nil {
		return nil, err
	}
	return v.(*Arc[T]), nil
}

// Free consumes h and releases its reference, destroying the object when
// it was the last one.
func (m *Manager[T]) Free(h Handle) error {
	a, err := m.Lift(h)
	if err != nil {
		return err
	}
	if a.Release() {
		m.table.notify(Event{Type: EventDropped, Handle: h, TypeID: m.typeID, TypeName: m.name})
	}
	return nil
}

// Borrow returns a new reference to the object behind h without consuming
// h. It backs method calls on a handle; the caller releases the reference
// when the call returns.
func (m *Manager[T]) Borrow(h Handle) (*Arc[T], error) {
	v, err := m.table.Acquire(h, m.typeID)
	if err != nil {
		return nil, err
	}
	return v.(*Arc[T]), nil
}

// Converter encodes objects as u64 handles. Writing lowers the reference,
// reading lifts it, so an object embedded in a record moves with the record.
func (m *Manager[T]) Converter() codec.Converter[*Arc[T]] {
	return handleConverter[T]{m: m}
}

type handleConverter[T any] struct {
	m *Manager[T]
}

func (c handleConverter[T]) Write(w *codec.Writer, a *Arc[T]) {
	w.WriteU64(uint64(c.m.Lower(a)))
}

func (c handleConverter[T]) Read(r *codec.Reader) (*Arc[T], error) {
	h, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return c.m.Lift(Handle(h))
}
