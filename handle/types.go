package handle

import "strconv"

// Handle is an opaque reference to a lowered object. The low 32 bits hold
// the slot number plus one and the high 32 bits the slot generation, so
// handle 0 is never issued.
type Handle uint64

func (h Handle) slot() uint32 { return uint32(h) - 1 }

func (h Handle) generation() uint32 { return uint32(h >> 32) }

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot+1))
}

func (h Handle) String() string {
	return "0x" + strconv.FormatUint(uint64(h), 16)
}

// EventType identifies a handle lifecycle notification.
type EventType uint8

const (
	EventLowered EventType = iota
	EventCloned
	EventLifted
	EventDropped
)

func (e EventType) String() string {
	switch e {
	case EventLowered:
		return "lowered"
	case EventCloned:
		return "cloned"
	case EventLifted:
		return "lifted"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Value    any
	TypeName string
	Handle   Handle
	TypeID   uint32
	Type     EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers are called without table locks held.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is optionally implemented by object values that need cleanup when
// their last reference is released.
type Dropper interface {
	Drop()
}
