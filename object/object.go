// Package object defines the primitive types shared by every layer of the
// rollback context: object identifiers, instants, event serials, and the
// Object/Event capability interfaces that a Context manipulates.
package object

import "fmt"

// ID identifies an Object within a Context. Zero is reserved and never
// assigned to a real object.
type ID uint32

// Instant is a discrete tick of logical time. It increases strictly during
// forward advance; wraparound past the 32-bit boundary is not supported.
type Instant uint32

// Serial disambiguates multiple events belonging to the same object at the
// same instant.
type Serial uint32

func (id ID) String() string {
	return fmt.Sprintf("obj:%08x", uint32(id))
}

// Object is a participant in a Context. It must be able to advance one tick
// at a time and to restore its state as of any instant no later than now.
type Object interface {
	// ObjectID returns this object's identifier. It must never be zero and
	// must never change for the lifetime of the object.
	ObjectID() ID

	// Step advances this object's state by exactly one instant. userdata is
	// opaque, application-supplied context; it is the only permitted source
	// of non-determinism.
	Step(userdata interface{})

	// Rewind restores the object to the state it had at instant t. t is
	// always <= the Context's current instant at the time of the call.
	Rewind(t Instant)
}

// Event mutates a single target Object at a specific instant. Two events
// with the same (ObjectID, Instant, Serial) triple are considered identical;
// the Context keeps whichever was inserted first.
type Event interface {
	// TargetID is the object_id this event applies to.
	TargetID() ID

	// At is the instant this event is scheduled for.
	At() Instant

	// Serial disambiguates same-object, same-instant events.
	Serial() Serial

	// Apply mutates target. Called exactly once per (re-)execution of the
	// timeline that includes this event's instant.
	Apply(target Object, userdata interface{})

	// Drop releases any resources held by this event. Must be infallible,
	// and is called exactly once: either when the event is redacted, or when
	// the owning Context is discarded.
	Drop()
}

// Key is the triple that uniquely identifies an event within a Context.
type Key struct {
	Object ID
	At     Instant
	Serial Serial
}

func KeyOf(e Event) Key {
	return Key{Object: e.TargetID(), At: e.At(), Serial: e.Serial()}
}

// Less orders keys the way Context.advance applies events within a tick:
// by object id, then by serial. At is assumed equal when this is used (the
// caller buckets by instant first).
func (k Key) Less(o Key) bool {
	if k.Object != o.Object {
		return k.Object < o.Object
	}
	return k.Serial < o.Serial
}
