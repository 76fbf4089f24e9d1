// Package context implements the rollback-capable map of objects and events
// described by the core of libpraefectus: a Context holds a set of objects,
// a chronologically ordered multiset of events, and a current instant, and
// guarantees that retroactive mutation at a past instant reproduces
// bitwise-identical forward state.
package context

import (
	"sort"

	"github.com/luxfi/praefectus/object"
)

// Context is a set of objects, a chronologically ordered multiset of
// events, and a current instant. It is not safe for concurrent use; the
// owning System/Node drives it from a single goroutine (spec §5).
type Context struct {
	objects map[object.ID]object.Object
	ids     []object.ID // kept sorted; cache, rebuilt lazily

	events    map[object.Key]object.Event
	byInstant map[object.Instant][]object.Key

	now      object.Instant
	userdata interface{}
}

// New returns an empty Context at instant 0.
func New() *Context {
	return &Context{
		objects:   make(map[object.ID]object.Object),
		events:    make(map[object.Key]object.Event),
		byInstant: make(map[object.Instant][]object.Key),
	}
}

// Now returns the Context's current instant.
func (c *Context) Now() object.Instant { return c.now }

// Object returns the object registered under id, if any.
func (c *Context) Object(id object.ID) (object.Object, bool) {
	o, ok := c.objects[id]
	return o, ok
}

// NumObjects returns the number of registered objects.
func (c *Context) NumObjects() int { return len(c.objects) }

// NumEvents returns the number of events currently held (applied or not).
func (c *Context) NumEvents() int { return len(c.events) }

// AddObject registers obj. If an object with the same id is already
// present, AddObject returns it unchanged and does nothing else. Otherwise
// obj is registered, obj.Rewind(Now()) is called to line it up with the
// Context's current instant, and (nil, true) is returned.
func (c *Context) AddObject(obj object.Object) (existing object.Object, added bool) {
	id := obj.ObjectID()
	if prior, ok := c.objects[id]; ok {
		return prior, false
	}

	c.objects[id] = obj
	c.ids = nil // invalidate sorted cache
	obj.Rewind(c.now)
	return nil, true
}

// sortedIDs returns object ids in ascending order, rebuilding the cache if
// it was invalidated by a registration.
func (c *Context) sortedIDs() []object.ID {
	if c.ids == nil {
		ids := make([]object.ID, 0, len(c.objects))
		for id := range c.objects {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		c.ids = ids
	}
	return c.ids
}

// AddEvent inserts evt into the event set. If an event with the same
// (object, instant, serial) triple already exists, the existing event is
// kept, evt is dropped, and (existing, false) is returned. Otherwise evt is
// inserted; if evt.At() is not strictly in the future, its tick has either
// already run or is currently running, so every object is rewound and the
// timeline is replayed forward to restore Now() with evt taken into account.
func (c *Context) AddEvent(evt object.Event) (existing object.Event, added bool) {
	key := object.KeyOf(evt)
	if prior, ok := c.events[key]; ok {
		evt.Drop()
		return prior, false
	}

	c.events[key] = evt
	c.byInstant[evt.At()] = append(c.byInstant[evt.At()], key)

	if evt.At() <= c.now {
		c.rewindAndReplay(evt.At())
	}

	return nil, true
}

// RedactEvent removes the event identified by (objectID, at, serial), if
// present, and returns whether anything was removed. If the removed event's
// instant was not strictly in the future, the timeline is rewound and
// replayed forward the same way AddEvent does.
func (c *Context) RedactEvent(objectID object.ID, at object.Instant, serial object.Serial) bool {
	key := object.Key{Object: objectID, At: at, Serial: serial}
	evt, ok := c.events[key]
	if !ok {
		return false
	}

	delete(c.events, key)
	c.removeFromBucket(at, key)
	evt.Drop()

	if at <= c.now {
		c.rewindAndReplay(at)
	}

	return true
}

func (c *Context) removeFromBucket(at object.Instant, key object.Key) {
	bucket := c.byInstant[at]
	for i, k := range bucket {
		if k == key {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.byInstant, at)
	} else {
		c.byInstant[at] = bucket
	}
}

// rewindAndReplay restores every object to the instant before t (to t itself
// when t is 0), then replays the timeline forward through t up to the
// instant Now() held before this call, using
// the userdata last supplied to Advance. This is the mechanism by which
// retroactive event insertion/redaction stays consistent (spec §4.1).
func (c *Context) rewindAndReplay(t object.Instant) {
	target := c.now

	// Objects must be restored to the instant *before* t, not t itself: t is
	// about to be re-applied (with the new or removed event taken into
	// account), and Advance's own convention is that applyTick(k) runs while
	// Now() still reads k-1. Instant 0 is genesis and has no predecessor, so
	// it is its own rewind point.
	rewindTo := t
	if t > 0 {
		rewindTo = t - 1
	}

	for _, id := range c.sortedIDs() {
		c.objects[id].Rewind(rewindTo)
	}
	c.now = rewindTo

	for c.now < target {
		c.applyTick(c.now + 1)
		c.stepAll()
		c.now++
	}
}

// applyTick applies, in (object_id, serial) order, every event scheduled at
// instant at.
func (c *Context) applyTick(at object.Instant) {
	keys := c.byInstant[at]
	if len(keys) == 0 {
		return
	}

	ordered := make([]object.Key, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	for _, key := range ordered {
		evt, ok := c.events[key]
		if !ok {
			continue
		}
		target, ok := c.objects[key.Object]
		if !ok {
			// Host programmer error: an event references an object that was
			// never registered. There is no error channel for apply, so the
			// event is simply skipped.
			continue
		}
		evt.Apply(target, c.userdata)
	}
}

func (c *Context) stepAll() {
	for _, id := range c.sortedIDs() {
		c.objects[id].Step(c.userdata)
	}
}

// Advance moves the Context forward by delta instants, applying events and
// stepping every object once per tick, then records userdata as the value
// used for any future rewind/replay triggered by retroactive mutation.
func (c *Context) Advance(delta object.Instant, userdata interface{}) {
	c.userdata = userdata
	for i := object.Instant(0); i < delta; i++ {
		c.applyTick(c.now + 1)
		c.stepAll()
		c.now++
	}
}

// HasEvent reports whether an event with the given key is currently
// present (applied or not) in this Context.
func (c *Context) HasEvent(key object.Key) bool {
	_, ok := c.events[key]
	return ok
}

// Touch forces a rewind-and-replay through instant at without adding or
// removing any event. It is for callers whose event's Apply behavior
// depends on some external flag that just changed identity-independently
// (for example, a withdrawal flag the event itself checks).
func (c *Context) Touch(at object.Instant) {
	if at <= c.now {
		c.rewindAndReplay(at)
	}
}
