// Package transactor overlays a Context with majority-vote acceptance: user
// events are never inserted into the visible ("slave") Context directly, but
// wrapped in meta-events recorded against a hidden "master" Context, whose
// own rewind machinery keeps the slave consistent whenever votes or the
// voter count change retroactively (spec §4.2).
package transactor

import (
	"github.com/luxfi/praefectus/context"
	"github.com/luxfi/praefectus/object"
)

// ledgerObjectID is the fixed id of the internal bookkeeping object every
// meta-event targets within the master Context. It is reserved and must
// never be used by application objects registered directly in the master.
const ledgerObjectID object.ID = 0xFFFFFFFF

// decisionSerialBase separates the serial space of ledger-mutating
// meta-events (votes, node-count deltas) from acceptance-decision
// meta-events (wrapper, deadline). Within a single instant, events targeting
// the same ledger object are applied in ascending serial order; keeping
// every decision serial above every ledger-mutating one guarantees a vote
// cast for the same instant as a pending decision is always counted before
// that decision runs, no matter which was allocated first.
const decisionSerialBase object.Serial = 1 << 31

// Transactor holds a master Context of meta-events and a slave Context of
// accepted user events.
type Transactor struct {
	Master *context.Context
	slave  *context.Context
	ledger *ledger

	wrappers map[object.Key]*wrapperEvent

	nextSerial         object.Serial
	nextDecisionSerial object.Serial
}

// New creates a Transactor with empty master and slave contexts and a
// starting voter count of zero; adjust it with NodeCountDelta.
func New() *Transactor {
	t := &Transactor{
		Master:   context.New(),
		slave:    context.New(),
		ledger:   newLedger(ledgerObjectID),
		wrappers: make(map[object.Key]*wrapperEvent),
	}
	t.Master.AddObject(t.ledger)
	return t
}

// Advance moves the master and slave contexts forward together by delta
// instants. They must stay in lockstep: acceptance decisions made while
// replaying the master at some instant insert or redact slave events at
// that same instant, and the slave only picks those up by reaching it
// through its own forward advance.
func (t *Transactor) Advance(delta object.Instant, userdata interface{}) {
	t.Master.Advance(delta, userdata)
	t.slave.Advance(delta, userdata)
}

// Slave exposes the user-visible Context: only events that have crossed the
// acceptance threshold (or are within their optimistic window) ever appear
// here.
func (t *Transactor) Slave() *context.Context { return t.slave }

func (t *Transactor) allocSerial() object.Serial {
	s := t.nextSerial
	t.nextSerial++
	return s
}

func (t *Transactor) allocDecisionSerial() object.Serial {
	s := decisionSerialBase + t.nextDecisionSerial
	t.nextDecisionSerial++
	return s
}

// threshold returns the number of votes an event needs at a given node
// count to be accepted: ceil(n/2), i.e. (n+1)/2, or 1 when n <= 0.
func threshold(nodeCount int) int {
	if nodeCount <= 0 {
		return 1
	}
	return (nodeCount + 1) / 2
}

// PutEvent schedules evt for conditional insertion into the slave. If
// optimism > 0, evt is inserted immediately (pending a Deadline call to
// retract it if under-voted); otherwise it waits for the vote threshold.
// The returned key identifies the wrapper meta-event, for later use with
// RedactEvent to withdraw evt entirely regardless of its vote count.
func (t *Transactor) PutEvent(evt object.Event, optimism int) object.Key {
	w := &wrapperEvent{
		ledgerID: ledgerObjectID,
		at:       evt.At(),
		serial:   t.allocDecisionSerial(),
		user:     evt,
		optimism: optimism,
		slave:    t.slave,
	}
	t.Master.AddEvent(w)
	key := object.KeyOf(w)
	t.wrappers[key] = w
	return key
}

// RedactEvent withdraws a user event that was scheduled with PutEvent,
// identified by the key PutEvent returned, regardless of its current vote
// count or optimistic status. The wrapper meta-event stays registered
// (permanently refusing acceptance) rather than being removed outright, so
// that it keeps cleaning up after itself on any future replay that touches
// its instant.
func (t *Transactor) RedactEvent(key object.Key) bool {
	w, ok := t.wrappers[key]
	if !ok || w.withdrawn {
		return false
	}
	w.withdrawn = true
	t.Master.Touch(key.At)
	w.Drop()
	return true
}

// Deadline schedules a re-evaluation of evt at deadlineInstant: if the vote
// threshold is not met by then, evt is retracted from the slave (this is
// how an optimistically-applied event gets rolled back).
func (t *Transactor) Deadline(evt object.Event, deadlineInstant object.Instant) {
	d := &deadlineEvent{
		ledgerID: ledgerObjectID,
		at:       deadlineInstant,
		serial:   t.allocDecisionSerial(),
		key:      object.KeyOf(evt),
		slave:    t.slave,
	}
	t.Master.AddEvent(d)
}

// VoteFor casts one additional vote for the event identified by
// (objectID, at, serial). The vote is recorded at that same master instant,
// so that whether it is still pending or already in the past, adding it
// always forces the acceptance decision for that instant to be
// recomputed. The returned key identifies this specific vote, for later use
// with RedactVote.
func (t *Transactor) VoteFor(objectID object.ID, at object.Instant, serial object.Serial) object.Key {
	v := &voteEvent{
		ledgerID: ledgerObjectID,
		atMaster: at,
		serial:   t.allocSerial(),
		target:   object.Key{Object: objectID, At: at, Serial: serial},
	}
	t.Master.AddEvent(v)
	return object.KeyOf(v)
}

// RedactVote removes a single previously-cast vote, identified by the key
// VoteFor returned, and cascades the recomputation through the master
// Context's ordinary rewind machinery.
func (t *Transactor) RedactVote(key object.Key) bool {
	return t.Master.RedactEvent(key.Object, key.At, key.Serial)
}

// NodeCountDelta adjusts the global voter count by delta, effective at the
// given instant.
func (t *Transactor) NodeCountDelta(delta int, at object.Instant) {
	d := &nodeCountDeltaEvent{
		ledgerID: ledgerObjectID,
		at:       at,
		serial:   t.allocSerial(),
		delta:    delta,
	}
	t.Master.AddEvent(d)
}

// NodeCount returns the voter count visible at the master's current instant.
func (t *Transactor) NodeCount() int {
	return t.ledger.cur().nodeCount
}

// VoteCount returns the vote tally visible at the master's current instant
// for the event identified by key.
func (t *Transactor) VoteCount(key object.Key) int {
	return t.ledger.cur().votes[key]
}

// slaveProxy forwards Apply to the wrapped user event but never drops it:
// the user event's lifetime is owned by the wrapper meta-event that created
// the proxy, since the same event may be inserted into and redacted from
// the slave many times as votes are cast and retracted.
type slaveProxy struct {
	inner object.Event
}

func (p *slaveProxy) TargetID() object.ID   { return p.inner.TargetID() }
func (p *slaveProxy) At() object.Instant    { return p.inner.At() }
func (p *slaveProxy) Serial() object.Serial { return p.inner.Serial() }
func (p *slaveProxy) Apply(target object.Object, userdata interface{}) {
	p.inner.Apply(target, userdata)
}
func (p *slaveProxy) Drop() {}

// wrapperEvent is the meta-event returned by PutEvent. It stays registered
// in the master for the Transactor's lifetime: withdrawal is modeled as a
// permanent flag rather than removal, so the wrapper keeps being replayed
// and keeps cleaning up its slave-side insertion on every future instant-
// touching rewind.
type wrapperEvent struct {
	ledgerID  object.ID
	at        object.Instant
	serial    object.Serial
	user      object.Event
	optimism  int
	slave     *context.Context
	withdrawn bool
	dropped   bool
}

func (w *wrapperEvent) TargetID() object.ID   { return w.ledgerID }
func (w *wrapperEvent) At() object.Instant    { return w.at }
func (w *wrapperEvent) Serial() object.Serial { return w.serial }

func (w *wrapperEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*ledger)
	key := object.KeyOf(w.user)
	accepted := !w.withdrawn && (l.cur().votes[key] >= threshold(l.cur().nodeCount) || w.optimism > 0)
	present := w.slave.HasEvent(key)

	switch {
	case accepted && !present:
		w.slave.AddEvent(&slaveProxy{inner: w.user})
	case !accepted && present:
		w.slave.RedactEvent(key.Object, key.At, key.Serial)
	}
}

func (w *wrapperEvent) Drop() {
	if !w.dropped {
		w.dropped = true
		w.user.Drop()
	}
}

// deadlineEvent is the meta-event returned by Deadline.
type deadlineEvent struct {
	ledgerID object.ID
	at       object.Instant
	serial   object.Serial
	key      object.Key
	slave    *context.Context
}

func (d *deadlineEvent) TargetID() object.ID   { return d.ledgerID }
func (d *deadlineEvent) At() object.Instant    { return d.at }
func (d *deadlineEvent) Serial() object.Serial { return d.serial }

func (d *deadlineEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*ledger)
	if l.cur().votes[d.key] < threshold(l.cur().nodeCount) && d.slave.HasEvent(d.key) {
		d.slave.RedactEvent(d.key.Object, d.key.At, d.key.Serial)
	}
}

func (d *deadlineEvent) Drop() {}

// voteEvent is the meta-event returned by VoteFor.
type voteEvent struct {
	ledgerID object.ID
	atMaster object.Instant
	serial   object.Serial
	target   object.Key
}

func (v *voteEvent) TargetID() object.ID   { return v.ledgerID }
func (v *voteEvent) At() object.Instant    { return v.atMaster }
func (v *voteEvent) Serial() object.Serial { return v.serial }

func (v *voteEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*ledger)
	l.cur().votes[v.target]++
}

func (v *voteEvent) Drop() {}

// nodeCountDeltaEvent is the meta-event returned by NodeCountDelta.
type nodeCountDeltaEvent struct {
	ledgerID object.ID
	at       object.Instant
	serial   object.Serial
	delta    int
}

func (n *nodeCountDeltaEvent) TargetID() object.ID   { return n.ledgerID }
func (n *nodeCountDeltaEvent) At() object.Instant    { return n.at }
func (n *nodeCountDeltaEvent) Serial() object.Serial { return n.serial }

func (n *nodeCountDeltaEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*ledger)
	l.cur().nodeCount += n.delta
}

func (n *nodeCountDeltaEvent) Drop() {}

// ledgerState is one instant's worth of vote tallies and voter count.
type ledgerState struct {
	votes     map[object.Key]int
	nodeCount int
}

func (s ledgerState) clone() ledgerState {
	votes := make(map[object.Key]int, len(s.votes))
	for k, v := range s.votes {
		votes[k] = v
	}
	return ledgerState{votes: votes, nodeCount: s.nodeCount}
}

// ledger is the Object every meta-event targets. Meta-events mutate pending
// (the instant currently being computed); Step seals a copy of pending into
// history as the new instant, and Rewind restores pending from a sealed
// instant. This split keeps an in-tick vote/count mutation from corrupting
// the already-sealed record of the previous instant.
type ledger struct {
	id      object.ID
	history []ledgerState
	pending ledgerState
}

func newLedger(id object.ID) *ledger {
	genesis := ledgerState{votes: make(map[object.Key]int)}
	return &ledger{
		id:      id,
		history: []ledgerState{genesis},
		pending: genesis.clone(),
	}
}

func (l *ledger) ObjectID() object.ID { return l.id }

func (l *ledger) cur() *ledgerState { return &l.pending }

func (l *ledger) Step(interface{}) {
	l.history = append(l.history, l.pending.clone())
}

func (l *ledger) Rewind(t object.Instant) {
	l.history = l.history[:t+1]
	l.pending = l.history[t].clone()
}
