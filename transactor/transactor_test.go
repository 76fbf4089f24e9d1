package transactor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/praefectus/object"
	"github.com/luxfi/praefectus/transactor"
)

// flag is a slave-visible Object whose state is 1 iff a particular event is
// currently in effect. Like every Object in this package, it separates the
// sealed history it can be Rewind-restored from the pending value events
// mutate mid-tick.
type flag struct {
	id      object.ID
	history []int
	pending int
}

func newFlag(id object.ID) *flag { return &flag{id: id, history: []int{0}} }
func (f *flag) ObjectID() object.ID { return f.id }
func (f *flag) cur() int            { return f.pending }
func (f *flag) Step(interface{})    { f.history = append(f.history, f.pending) }
func (f *flag) Rewind(t object.Instant) {
	f.history = f.history[:t+1]
	f.pending = f.history[t]
}
func (f *flag) set(v int) { f.pending = v }

type setEvent struct {
	target object.ID
	at     object.Instant
	serial object.Serial
	drops  int
}

func (e *setEvent) TargetID() object.ID   { return e.target }
func (e *setEvent) At() object.Instant    { return e.at }
func (e *setEvent) Serial() object.Serial { return e.serial }
func (e *setEvent) Apply(target object.Object, _ interface{}) {
	target.(*flag).set(1)
}
func (e *setEvent) Drop() { e.drops++ }

// TestPessimisticEventRequiresVotes traces the original's
// pessimistic_event_applied_one_after_votes (node_count=4): the first vote
// is not enough, the second crosses the threshold, and a third redacted
// back down below threshold retracts the event again.
func TestPessimisticEventRequiresVotes(t *testing.T) {
	tr := transactor.New()
	f := newFlag(1)
	tr.Slave().AddObject(f)

	tr.NodeCountDelta(4, 1)

	evt := &setEvent{target: 1, at: 2}
	tr.PutEvent(evt, 0)

	tr.Advance(2, nil)
	require.Equal(t, 0, f.cur(), "no votes cast yet")

	tr.VoteFor(1, 2, 0)
	require.Equal(t, 0, f.cur(), "one of two required votes is not enough")

	k2 := tr.VoteFor(1, 2, 0)
	require.Equal(t, 1, f.cur(), "second vote crosses the threshold at node_count=4")

	require.True(t, tr.RedactVote(k2))
	require.Equal(t, 0, f.cur(), "dropping below threshold retracts the event")
}

func TestOptimisticEventWithDeadline(t *testing.T) {
	tr := transactor.New()
	f := newFlag(1)
	tr.Slave().AddObject(f)

	tr.NodeCountDelta(10, 1)

	evt := &setEvent{target: 1, at: 2}
	tr.PutEvent(evt, 1)
	tr.Deadline(evt, 4)

	tr.Advance(2, nil)
	require.Equal(t, 1, f.cur(), "optimistic insertion takes effect without any votes")

	tr.Advance(3, nil)
	require.Equal(t, 0, f.cur(), "deadline retracts an event that never collected enough votes")

	tr.VoteFor(1, 2, 0)
	require.Equal(t, 0, f.cur(), "one vote out of ten is nowhere near threshold")
}

// TestEventResurrectedAfterDeadlineGainsVotes traces the original's
// event_resurrected_if_gains_votes_after_deadline (node_count=3): an
// optimistic event is retracted at its deadline for lack of votes, then
// gaining enough votes afterward resurrects it without needing to be
// re-inserted.
func TestEventResurrectedAfterDeadlineGainsVotes(t *testing.T) {
	tr := transactor.New()
	f := newFlag(1)
	tr.Slave().AddObject(f)

	tr.NodeCountDelta(3, 1)

	evt := &setEvent{target: 1, at: 2}
	tr.PutEvent(evt, 1)
	tr.Deadline(evt, 4)

	tr.Advance(2, nil)
	require.Equal(t, 1, f.cur(), "optimistic insertion takes effect without any votes")

	tr.Advance(3, nil)
	require.Equal(t, 0, f.cur(), "deadline retracts the event once its optimistic window closes")

	tr.VoteFor(1, 2, 0)
	tr.VoteFor(1, 2, 0)
	require.Equal(t, 1, f.cur(), "two of two required votes at node_count=3 resurrects the event")
}

func TestWrapperDropsUserEventExactlyOnceOnRedaction(t *testing.T) {
	tr := transactor.New()
	f := newFlag(1)
	tr.Slave().AddObject(f)

	evt := &setEvent{target: 1, at: 1}
	k := tr.PutEvent(evt, 1)
	tr.Advance(1, nil)
	require.Equal(t, 1, f.cur())
	require.Equal(t, 0, evt.drops)

	require.True(t, tr.RedactEvent(k))
	require.Equal(t, 0, f.cur())
	require.Equal(t, 1, evt.drops, "the wrapper must drop the user event exactly once")

	// Redacting the same wrapper twice must not double-drop it.
	require.False(t, tr.RedactEvent(k))
	require.Equal(t, 1, evt.drops)
}
