package handle

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

type counter struct {
	dropped *int
	name    string
}

func (c *counter) Drop() { *c.dropped++ }

type recorder struct {
	mu     sync.Mutex
	events []EventType
}

func (r *recorder) OnHandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e.Type)
	r.mu.Unlock()
}

var invalidHandle = &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindInvalidHandle}

func newManager(t *testing.T) *Manager[*counter] {
	t.Helper()
	table := NewTable(DefaultTableOptions())
	t.Cleanup(func() { table.Close() })
	return NewManager[*counter](table, "Counter")
}

func TestLowerLift(t *testing.T) {
	m := newManager(t)
	dropped := 0
	a := NewArc(&counter{name: "a", dropped: &dropped})

	h := m.Lower(a)
	if h == 0 {
		t.Fatal("Lower returned the null handle")
	}
	if a.StrongCount() != 1 {
		t.Errorf("StrongCount after Lower = %d, want 1", a.StrongCount())
	}

	back, err := m.Lift(h)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	if back != a || back.StrongCount() != 1 {
		t.Errorf("Lift returned %p with count %d", back, back.StrongCount())
	}
	if m.Table().Len() != 0 {
		t.Errorf("table Len = %d after Lift, want 0", m.Table().Len())
	}

	if _, err := m.Lift(h); !stderrors.Is(err, invalidHandle) {
		t.Errorf("second Lift err = %v, want invalid handle", err)
	}
	if !back.Release() || dropped != 1 {
		t.Errorf("Release should destroy the object, dropped=%d", dropped)
	}
}

func TestCloneThenFreeBoth(t *testing.T) {
	m := newManager(t)
	dropped := 0
	a := NewArc(&counter{dropped: &dropped})
	keep := a.Clone()

	h := m.Lower(a)
	before := keep.StrongCount()

	h2, err := m.Clone(h)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if keep.StrongCount() != before+1 {
		t.Errorf("count after Clone = %d, want %d", keep.StrongCount(), before+1)
	}

	if err := m.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := m.Free(h2); err != nil {
		t.Fatalf("Free clone: %v", err)
	}
	if keep.StrongCount() != before-1 {
		t.Errorf("count after freeing both = %d, want %d", keep.StrongCount(), before-1)
	}
	if dropped != 0 {
		t.Error("object destroyed while a reference is still held")
	}

	keep.Release()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestInvalidHandles(t *testing.T) {
	m := newManager(t)
	dropped := 0

	h := m.New(&counter{dropped: &dropped})
	if err := m.Free(h); err != nil {
		t.Fatal(err)
	}
	reused := m.New(&counter{dropped: &dropped})
	defer m.Free(reused)

	other := NewManager[string](m.Table(), "Other")
	str := other.New("x")
	defer other.Free(str)

	tests := []struct {
		name string
		h    Handle
	}{
		{"null", 0},
		{"never issued", makeHandle(999, 0)},
		{"stale generation", h},
		{"wrong type", str},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Lift(tt.h); !stderrors.Is(err, invalidHandle) {
				t.Errorf("Lift err = %v, want invalid handle", err)
			}
			if _, err := m.Clone(tt.h); !stderrors.Is(err, invalidHandle) {
				t.Errorf("Clone err = %v, want invalid handle", err)
			}
			if _, err := m.Borrow(tt.h); !stderrors.Is(err, invalidHandle) {
				t.Errorf("Borrow err = %v, want invalid handle", err)
			}
		})
	}
}

func TestBorrow(t *testing.T) {
	m := newManager(t)
	dropped := 0
	h := m.New(&counter{name: "self", dropped: &dropped})

	self, err := m.Borrow(h)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if self.Value().name != "self" || self.StrongCount() != 2 {
		t.Errorf("borrowed %q with count %d", self.Value().name, self.StrongCount())
	}
	self.Release()

	if err := m.Free(h); err != nil {
		t.Fatalf("Free after Borrow: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestObserverEvents(t *testing.T) {
	m := newManager(t)
	rec := &recorder{}
	m.Table().Subscribe(rec)

	dropped := 0
	h := m.New(&counter{dropped: &dropped})
	h2, _ := m.Clone(h)
	_ = m.Free(h)
	_ = m.Free(h2)

	want := []EventType{EventLowered, EventCloned, EventLifted, EventLifted, EventDropped}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, rec.events[i], want[i])
		}
	}

	m.Table().Unsubscribe(rec)
	m.New(&counter{dropped: &dropped})
	if len(rec.events) != len(want) {
		t.Error("unsubscribed observer still notified")
	}
}

func TestTableCloseReleasesOutstanding(t *testing.T) {
	table := NewTable(DefaultTableOptions())
	m := NewManager[*counter](table, "")
	dropped := 0

	h := m.New(&counter{dropped: &dropped})
	if _, err := m.Clone(h); err != nil {
		t.Fatal(err)
	}
	m.New(&counter{dropped: &dropped})

	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if h := m.New(&counter{dropped: &dropped}); h != 0 || dropped != 3 {
		t.Errorf("Lower into closed table = %v, dropped = %d", h, dropped)
	}
}

func TestUncheckedGenerations(t *testing.T) {
	table := NewTable(TableOptions{})
	m := NewManager[string](table, "s")

	h := m.New("first")
	_ = m.Free(h)
	h2 := m.New("second")
	if h != h2 {
		t.Fatalf("without generations a reused slot gives the same handle: %v != %v", h, h2)
	}
}

func TestHandleConverter(t *testing.T) {
	m := newManager(t)
	dropped := 0
	c := codec.Sequence(m.Converter())

	items := []*Arc[*counter]{
		NewArc(&counter{name: "a", dropped: &dropped}),
		NewArc(&counter{name: "b", dropped: &dropped}),
	}
	buf := codec.Lower(c, items)
	if m.Table().Len() != 2 {
		t.Fatalf("Len = %d after lowering two objects", m.Table().Len())
	}

	got, err := codec.Lift(c, buf)
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	if len(got) != 2 || got[0].Value().name != "a" || got[1].Value().name != "b" {
		t.Fatalf("lifted %v", got)
	}
	for _, a := range got {
		a.Release()
	}
	if dropped != 2 || m.Table().Len() != 0 {
		t.Errorf("dropped = %d, Len = %d", dropped, m.Table().Len())
	}
}

func TestConcurrentCloneFree(t *testing.T) {
	m := newManager(t)
	dropped := 0
	h := m.New(&counter{dropped: &dropped})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		c, err := m.Clone(h)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if self, err := m.Borrow(c); err == nil {
				self.Release()
			}
			if err := m.Free(c); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if dropped != 0 {
		t.Fatal("object dropped while the original handle is live")
	}
	if err := m.Free(h); err != nil {
		t.Fatal(err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestArcOverReleasePanics(t *testing.T) {
	a := NewArc(1)
	a.Release()
	defer func() {
		if recover() == nil {
			t.Error("releasing a destroyed Arc should panic")
		}
	}()
	a.Release()
}

func TestStoreAfterClose(t *testing.T) {
	m := newManager(t)
	m.Table().Close()

	dropped := 0
	h, err := m.Store(NewArc(&counter{name: "late", dropped: &dropped}))
	if !stderrors.Is(err, ErrClosed) || h != 0 {
		t.Fatalf("Store = %v, %v; want 0, ErrClosed", h, err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}
