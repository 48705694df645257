package handle

import (
	stderrors "errors"
	"sync"

	"github.com/wippyai/ffi-runtime/errors"
)

var ErrClosed = stderrors.New("handle table closed")

// TableOptions configures a Table.
type TableOptions struct {
	// InitialCapacity preallocates slots.
	InitialCapacity int

	// CheckGenerations rejects handles whose slot has been reused since the
	// handle was issued. Without it a stale handle aliases whatever object
	// now occupies the slot.
	CheckGenerations bool
}

// DefaultTableOptions returns options with generation checks enabled.
func DefaultTableOptions() TableOptions {
	return TableOptions{
		InitialCapacity:  64,
		CheckGenerations: true,
	}
}

// Table keeps lowered objects reachable while foreign code holds their
// handles. Each live slot counts the handles issued for it.
//
// Handle validity is the caller's responsibility. Using a handle after it
// was lifted or freed, or one that was never issued, breaks the contract.
// The table's checks are a diagnostic aid and not a safety guarantee.
type Table struct {
	entries   []entry
	freeList  []uint32
	typeNames []string
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	opts      TableOptions
	closed    bool
}

type entry struct {
	value  any
	refs   int64
	gen    uint32
	typeID uint32
	valid  bool
}

// NewTable creates an empty table.
func NewTable(opts TableOptions) *Table {
	return &Table{
		entries:   make([]entry, 0, opts.InitialCapacity),
		freeList:  make([]uint32, 0, 16),
		typeNames: []string{""},
		opts:      opts,
	}
}

// RegisterType assigns a type ID used to tell objects of different types
// apart when a handle is presented.
func (t *Table) RegisterType(name string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typeNames = append(t.typeNames, name)
	return uint32(len(t.typeNames) - 1)
}

func (t *Table) typeName(typeID uint32) string {
	if int(typeID) < len(t.typeNames) {
		return t.typeNames[typeID]
	}
	return ""
}

// Insert stores value under a new handle with one outstanding reference.
func (t *Table) Insert(typeID uint32, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}

	var slot uint32
	if n := len(t.freeList); n > 0 {
		slot = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		t.entries = append(t.entries, entry{})
		slot = uint32(len(t.entries) - 1)
	}
	e := &t.entries[slot]
	e.value = value
	e.typeID = typeID
	e.refs = 1
	e.valid = true
	h := t.handleFor(slot, e.gen)
	name := t.typeName(typeID)
	t.mu.Unlock()

	t.notify(Event{Type: EventLowered, Handle: h, TypeID: typeID, TypeName: name, Value: value})
	return h, nil
}

func (t *Table) handleFor(slot, gen uint32) Handle {
	if !t.opts.CheckGenerations {
		gen = 0
	}
	return makeHandle(slot, gen)
}

// lookup returns the live entry for h. Caller holds t.mu.
func (t *Table) lookup(h Handle, typeID uint32) (*entry, error) {
	if h == 0 {
		return nil, errors.InvalidHandle(uint64(h), "null handle")
	}
	slot := h.slot()
	if int(slot) >= len(t.entries) {
		return nil, errors.InvalidHandle(uint64(h), "never issued")
	}
	e := &t.entries[slot]
	if !e.valid {
		return nil, errors.InvalidHandle(uint64(h), "already released")
	}
	if t.opts.CheckGenerations && e.gen != h.generation() {
		return nil, errors.InvalidHandle(uint64(h), "stale generation")
	}
	if e.typeID != typeID {
		return nil, errors.New(errors.PhaseHandle, errors.KindInvalidHandle).
			WireType(t.typeName(typeID)).
			Value(uint64(h)).
			Detail("Invalid handle %#x: refers to %s", uint64(h), t.typeName(e.typeID)).
			Build()
	}
	return e, nil
}

// Acquire returns the value stored under h and, for reference-counted
// values, adds a strong reference the caller must release. The handle is
// not consumed.
func (t *Table) Acquire(h Handle, typeID uint32) (any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, err := t.lookup(h, typeID)
	if err != nil {
		return nil, err
	}
	if c, ok := e.value.(counted); ok {
		c.incRef()
	}
	return e.value, nil
}

// Retain records one more outstanding handle reference for h. For
// reference-counted values the strong count grows with it.
func (t *Table) Retain(h Handle, typeID uint32) (any, error) {
	t.mu.Lock()
	e, err := t.lookup(h, typeID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	e.refs++
	if c, ok := e.value.(counted); ok {
		c.incRef()
	}
	value := e.value
	name := t.typeName(typeID)
	t.mu.Unlock()

	t.notify(Event{Type: EventCloned, Handle: h, TypeID: typeID, TypeName: name, Value: value})
	return value, nil
}

// Take consumes one outstanding reference for h and returns the stored
// value. The slot is freed when no references remain.
func (t *Table) Take(h Handle, typeID uint32) (any, error) {
	t.mu.Lock()
	e, err := t.lookup(h, typeID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	value := e.value
	e.refs--
	if e.refs == 0 {
		e.value = nil
		e.valid = false
		e.gen++
		t.freeList = append(t.freeList, h.slot())
	}
	name := t.typeName(typeID)
	t.mu.Unlock()

	t.notify(Event{Type: EventLifted, Handle: h, TypeID: typeID, TypeName: name, Value: value})
	return value, nil
}

// Len returns the number of live slots.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - len(t.freeList)
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Close releases every outstanding reference still held through a handle
// and rejects further inserts. Values that are reference-counted objects
// are released once per outstanding handle.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	for i := range entries {
		e := &entries[i]
		if !e.valid {
			continue
		}
		if r, ok := e.value.(counted); ok {
			for ; e.refs > 0; e.refs-- {
				r.Release()
			}
		} else if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// notify delivers e to observers. Observers are copied so they may
// subscribe or unsubscribe from within the callback.
func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	if len(t.observers) == 0 {
		t.obsMu.RUnlock()
		return
	}
	observers := append([]Observer(nil), t.observers...)
	t.obsMu.RUnlock()
	for _, o := range observers {
		o.OnHandleEvent(e)
	}
}
