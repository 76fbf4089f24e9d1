package context_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	praefcontext "github.com/luxfi/praefectus/context"
	"github.com/luxfi/praefectus/object"
)

// counter is a minimal Object: its state is an integer that increments by 1
// on every Step, plus whatever deltas its events apply. Events run against
// pending (the instant currently being computed); Step seals pending into
// history as the new instant and Rewind restores pending from a sealed one.
type counter struct {
	id      object.ID
	history []int // history[t] is the sealed value as of instant t
	pending int
}

func newCounter(id object.ID) *counter {
	return &counter{id: id, history: []int{0}}
}

func (c *counter) ObjectID() object.ID { return c.id }

func (c *counter) value() int { return c.pending }

func (c *counter) Step(userdata interface{}) {
	c.pending++
	c.history = append(c.history, c.pending)
}

func (c *counter) Rewind(t object.Instant) {
	c.history = c.history[:t+1]
	c.pending = c.history[t]
}

func (c *counter) addDelta(delta int) {
	c.pending += delta
}

type deltaEvent struct {
	target object.ID
	at     object.Instant
	serial object.Serial
	delta  int
	drops  *int
}

func (e *deltaEvent) TargetID() object.ID   { return e.target }
func (e *deltaEvent) At() object.Instant    { return e.at }
func (e *deltaEvent) Serial() object.Serial { return e.serial }
func (e *deltaEvent) Apply(target object.Object, _ interface{}) {
	target.(*counter).addDelta(e.delta)
}
func (e *deltaEvent) Drop() {
	if e.drops != nil {
		*e.drops++
	}
}

func TestAddObjectDedup(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	b := newCounter(1)

	existing, added := c.AddObject(a)
	require.True(t, added)
	require.Nil(t, existing)

	existing, added = c.AddObject(b)
	require.False(t, added)
	require.Same(t, a, existing)
}

func TestAdvanceStepsAllObjects(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	b := newCounter(2)
	c.AddObject(a)
	c.AddObject(b)

	c.Advance(5, nil)

	require.EqualValues(t, 5, c.Now())
	require.Equal(t, 5, a.value())
	require.Equal(t, 5, b.value())
}

func TestAddEventAtPastInstantRewindsAndReplays(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	c.AddObject(a)
	c.Advance(10, nil)
	require.Equal(t, 10, a.value())

	// Insert an event at instant 3 (in the past); it should be applied
	// retroactively and the net effect carried forward to instant 10.
	evt := &deltaEvent{target: 1, at: 3, delta: 100}
	_, added := c.AddEvent(evt)
	require.True(t, added)

	require.EqualValues(t, 10, c.Now())
	require.Equal(t, 110, a.value())
}

func TestRedactEventRollsBackEffect(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	c.AddObject(a)

	evt := &deltaEvent{target: 1, at: 2, delta: 50}
	c.AddEvent(evt)
	c.Advance(5, nil)
	require.Equal(t, 55, a.value())

	ok := c.RedactEvent(1, 2, 0)
	require.True(t, ok)
	require.Equal(t, 5, a.value())
}

func TestRedactEventUnknownReturnsFalse(t *testing.T) {
	c := praefcontext.New()
	require.False(t, c.RedactEvent(1, 0, 0))
}

func TestDuplicateEventTripleKeepsEarlier(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	c.AddObject(a)

	var drops int
	first := &deltaEvent{target: 1, at: 1, serial: 0, delta: 1}
	second := &deltaEvent{target: 1, at: 1, serial: 0, delta: 999, drops: &drops}

	_, added1 := c.AddEvent(first)
	_, added2 := c.AddEvent(second)

	require.True(t, added1)
	require.False(t, added2)
	require.Equal(t, 1, drops)

	c.Advance(2, nil)
	require.Equal(t, 3, a.value()) // two steps (+1 each) plus the one delta
}

// TestDeterminismInvariant checks spec §8's rewind/replay invariant: after
// advance(delta) then an internal rewind-and-replay triggered by a
// retroactive insertion, the object state at Now() matches direct forward
// computation of the same event set.
func TestDeterminismInvariant(t *testing.T) {
	// Apply all events up front, in instant order, then advance to instant 20.
	forward := func() int {
		c := praefcontext.New()
		a := newCounter(1)
		c.AddObject(a)
		c.AddEvent(&deltaEvent{target: 1, at: 2, delta: 5})
		c.AddEvent(&deltaEvent{target: 1, at: 7, delta: 11})
		c.Advance(20, nil)
		return a.value()
	}()

	// Advance to instant 10, then insert the same two events retroactively
	// and out of order, then advance the rest of the way to instant 20.
	retroactive := func() int {
		c := praefcontext.New()
		a := newCounter(1)
		c.AddObject(a)
		c.Advance(10, nil)
		c.AddEvent(&deltaEvent{target: 1, at: 7, delta: 11})
		c.AddEvent(&deltaEvent{target: 1, at: 2, delta: 5})
		c.Advance(10, nil)
		return a.value()
	}()

	require.Equal(t, forward, retroactive)
}

func TestEventOrderWithinTickIsObjectIDThenSerial(t *testing.T) {
	c := praefcontext.New()
	a := newCounter(1)
	b := newCounter(2)
	c.AddObject(b)
	c.AddObject(a)

	// Both objects get an event at instant 1; order must not depend on
	// insertion order or map iteration, only on (object_id, serial).
	c.AddEvent(&deltaEvent{target: 2, at: 1, serial: 0, delta: 1})
	c.AddEvent(&deltaEvent{target: 1, at: 1, serial: 0, delta: 1})
	c.AddEvent(&deltaEvent{target: 1, at: 1, serial: 1, delta: 2})

	c.Advance(1, nil)
	require.Equal(t, 1+1+2, a.value())
	require.Equal(t, 1+1, b.value())
}
