// Package metatransactor overlays node membership on top of the rollback
// Context primitives: each node has a pair of permission bitmaps (GRANT and
// DENY) recorded by remote voters, and a node is alive at an instant iff a
// simple majority of the voters alive at the previous instant granted it and
// a majority did not also deny it (spec §4.3). Like Transactor, membership is
// recomputed purely through the Context's own rewind machinery.
package metatransactor

import (
	"github.com/luxfi/praefectus/context"
	"github.com/luxfi/praefectus/object"
)

// BootstrapNode is implicitly alive from instant 0 and cannot be registered,
// granted, or denied like an ordinary node.
const BootstrapNode object.ID = 1

const ledgerObjectID object.ID = 0xFFFFFFFE

// Mask selects which permission bitmap a Chmod call declares into.
type Mask int

const (
	Grant Mask = 1 << iota
	Deny
)

// NodeCountSink receives the net change in alive node count whenever a tick's
// recomputation changes it. Transactor satisfies this interface directly, so
// a Metatransactor can drive a Transactor's voter count straight from its own
// membership decisions.
type NodeCountSink interface {
	NodeCountDelta(delta int, at object.Instant)
}

type declKey struct {
	target, voter object.ID
	mask          Mask
}

// Metatransactor holds a master Context of membership bitmaps and a slave
// Context of node-gated application events.
type Metatransactor struct {
	master *context.Context
	slave  *context.Context
	ledger *membershipLedger

	nodes    map[object.ID]bool
	declared map[declKey]object.Instant
	gates    map[object.Key]*gateEvent

	nextSerial object.Serial
}

// New creates a Metatransactor. sink may be nil if the caller does not need
// to be notified of alive-count changes.
func New(sink NodeCountSink) *Metatransactor {
	mt := &Metatransactor{
		master:   context.New(),
		slave:    context.New(),
		ledger:   newMembershipLedger(ledgerObjectID, sink),
		nodes:    make(map[object.ID]bool),
		declared: make(map[declKey]object.Instant),
		gates:    make(map[object.Key]*gateEvent),
	}
	mt.master.AddObject(mt.ledger)
	return mt
}

// Slave exposes the Context that node-gated application events are inserted
// into once their owning node is alive.
func (mt *Metatransactor) Slave() *context.Context { return mt.slave }

// Advance moves the master and slave contexts forward together, the same way
// Transactor.Advance does: the slave only learns of an alive/dead transition
// made during a master replay by later reaching that instant itself.
func (mt *Metatransactor) Advance(delta object.Instant, userdata interface{}) {
	mt.master.Advance(delta, userdata)
	mt.slave.Advance(delta, userdata)
}

func (mt *Metatransactor) allocSerial() object.Serial {
	s := mt.nextSerial
	mt.nextSerial++
	return s
}

// AddNode registers id as a node eligible to be voted on and to vote. Fails
// if id is the bootstrap node (implicitly registered) or already known.
func (mt *Metatransactor) AddNode(id object.ID) bool {
	if id == BootstrapNode || mt.nodes[id] {
		return false
	}
	mt.nodes[id] = true
	return true
}

func (mt *Metatransactor) knownNode(id object.ID) bool {
	return id == BootstrapNode || mt.nodes[id]
}

// Chmod records voter's declaration of mask against target, effective from
// effective forward. A repeated call for the same (target, voter, mask) is a
// no-op unless effective is strictly earlier than what's on record, in which
// case it retroactively advances (earlier-izes) the effective instant.
func (mt *Metatransactor) Chmod(target, voter object.ID, mask Mask, effective object.Instant) bool {
	if mask != Grant && mask != Deny {
		return false
	}
	if !mt.knownNode(target) || !mt.knownNode(voter) {
		return false
	}

	key := declKey{target: target, voter: voter, mask: mask}
	if existing, ok := mt.declared[key]; ok && effective >= existing {
		return true
	}
	mt.declared[key] = effective

	evt := &bitmapEvent{
		ledgerID: ledgerObjectID,
		target:   target,
		voter:    voter,
		mask:     mask,
		at:       effective,
		serial:   mt.allocSerial(),
	}
	mt.master.AddEvent(evt)
	return true
}

// AddEvent wraps evt so it is only visible in Slave() while nodeID is alive
// at evt.At(). Fails if nodeID is unknown or evt's (object, instant, serial)
// triple was already used by a previous AddEvent call.
func (mt *Metatransactor) AddEvent(nodeID object.ID, evt object.Event) bool {
	if !mt.knownNode(nodeID) {
		evt.Drop()
		return false
	}

	userKey := object.KeyOf(evt)
	if _, exists := mt.gates[userKey]; exists {
		evt.Drop()
		return false
	}

	g := &gateEvent{
		ledgerID: ledgerObjectID,
		node:     nodeID,
		at:       evt.At(),
		serial:   mt.allocSerial(),
		user:     evt,
		slave:    mt.slave,
	}
	mt.master.AddEvent(g)
	mt.gates[userKey] = g
	return true
}

// Alive reports whether id is currently (as of the master's Now()) alive.
func (mt *Metatransactor) Alive(id object.ID) bool {
	return id == BootstrapNode || mt.ledger.pending.alive[id]
}

// NodeCount returns the number of currently alive nodes, bootstrap included.
func (mt *Metatransactor) NodeCount() int {
	n := 0
	for _, alive := range mt.ledger.pending.alive {
		if alive {
			n++
		}
	}
	return n
}

// GetGrant returns the earliest instant at which id transitioned into alive,
// if it ever has.
func (mt *Metatransactor) GetGrant(id object.ID) (object.Instant, bool) {
	t, ok := mt.ledger.pending.aliveSince[id]
	return t, ok
}

// GetDeny returns the earliest instant at which id transitioned out of
// alive, if it ever has.
func (mt *Metatransactor) GetDeny(id object.ID) (object.Instant, bool) {
	t, ok := mt.ledger.pending.deadSince[id]
	return t, ok
}

// gateProxy forwards Apply to the wrapped user event but never drops it: the
// user event's lifetime is owned by the gateEvent that created the proxy.
type gateProxy struct {
	inner object.Event
}

func (p *gateProxy) TargetID() object.ID   { return p.inner.TargetID() }
func (p *gateProxy) At() object.Instant    { return p.inner.At() }
func (p *gateProxy) Serial() object.Serial { return p.inner.Serial() }
func (p *gateProxy) Apply(target object.Object, userdata interface{}) {
	p.inner.Apply(target, userdata)
}
func (p *gateProxy) Drop() {}

// gateEvent is the meta-event AddEvent schedules. Its apply reads the
// membership ledger's alive set *as sealed at the end of the previous tick*,
// since Step (which computes this tick's alive set) always runs after every
// event this tick has been applied.
type gateEvent struct {
	ledgerID object.ID
	node     object.ID
	at       object.Instant
	serial   object.Serial
	user     object.Event
	slave    *context.Context
	dropped  bool
}

func (g *gateEvent) TargetID() object.ID   { return g.ledgerID }
func (g *gateEvent) At() object.Instant    { return g.at }
func (g *gateEvent) Serial() object.Serial { return g.serial }

func (g *gateEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*membershipLedger)
	alive := g.node == BootstrapNode || l.pending.alive[g.node]
	key := object.KeyOf(g.user)
	present := g.slave.HasEvent(key)

	switch {
	case alive && !present:
		g.slave.AddEvent(&gateProxy{inner: g.user})
	case !alive && present:
		g.slave.RedactEvent(key.Object, key.At, key.Serial)
	}
}

func (g *gateEvent) Drop() {
	if !g.dropped {
		g.dropped = true
		g.user.Drop()
	}
}

// bitmapEvent is the meta-event Chmod schedules. Its apply records voter's
// declaration, keeping the earliest effective instant ever seen for the
// (target, voter, mask) triple.
type bitmapEvent struct {
	ledgerID object.ID
	target   object.ID
	voter    object.ID
	mask     Mask
	at       object.Instant
	serial   object.Serial
}

func (b *bitmapEvent) TargetID() object.ID   { return b.ledgerID }
func (b *bitmapEvent) At() object.Instant    { return b.at }
func (b *bitmapEvent) Serial() object.Serial { return b.serial }

func (b *bitmapEvent) Apply(target object.Object, _ interface{}) {
	l := target.(*membershipLedger)
	table := l.pending.grants
	if b.mask == Deny {
		table = l.pending.denies
	}
	voters, ok := table[b.target]
	if !ok {
		voters = make(map[object.ID]object.Instant)
		table[b.target] = voters
	}
	if existing, ok := voters[b.voter]; !ok || b.at < existing {
		voters[b.voter] = b.at
	}
}

func (b *bitmapEvent) Drop() {}

// membershipState is one instant's worth of permission bitmaps and alive
// status.
type membershipState struct {
	grants     map[object.ID]map[object.ID]object.Instant
	denies     map[object.ID]map[object.ID]object.Instant
	alive      map[object.ID]bool
	aliveSince map[object.ID]object.Instant
	deadSince  map[object.ID]object.Instant
}

func newGenesisState() membershipState {
	return membershipState{
		grants:     make(map[object.ID]map[object.ID]object.Instant),
		denies:     make(map[object.ID]map[object.ID]object.Instant),
		alive:      map[object.ID]bool{BootstrapNode: true},
		aliveSince: map[object.ID]object.Instant{BootstrapNode: 0},
		deadSince:  make(map[object.ID]object.Instant),
	}
}

func cloneBitmaps(m map[object.ID]map[object.ID]object.Instant) map[object.ID]map[object.ID]object.Instant {
	out := make(map[object.ID]map[object.ID]object.Instant, len(m))
	for target, voters := range m {
		vc := make(map[object.ID]object.Instant, len(voters))
		for voter, at := range voters {
			vc[voter] = at
		}
		out[target] = vc
	}
	return out
}

func (s membershipState) clone() membershipState {
	alive := make(map[object.ID]bool, len(s.alive))
	for id, v := range s.alive {
		alive[id] = v
	}
	aliveSince := make(map[object.ID]object.Instant, len(s.aliveSince))
	for id, v := range s.aliveSince {
		aliveSince[id] = v
	}
	deadSince := make(map[object.ID]object.Instant, len(s.deadSince))
	for id, v := range s.deadSince {
		deadSince[id] = v
	}
	return membershipState{
		grants:     cloneBitmaps(s.grants),
		denies:     cloneBitmaps(s.denies),
		alive:      alive,
		aliveSince: aliveSince,
		deadSince:  deadSince,
	}
}

// membershipLedger is the Object every meta-event targets. Like transactor's
// ledger, it keeps pending (mutated mid-tick by bitmapEvent/gateEvent apply)
// distinct from a sealed history (written once per Step).
type membershipLedger struct {
	id      object.ID
	history []membershipState
	pending membershipState
	sink    NodeCountSink
}

func newMembershipLedger(id object.ID, sink NodeCountSink) *membershipLedger {
	genesis := newGenesisState()
	return &membershipLedger{
		id:      id,
		history: []membershipState{genesis},
		pending: genesis.clone(),
		sink:    sink,
	}
}

func (l *membershipLedger) ObjectID() object.ID { return l.id }

// Step recomputes alive status for every node with a bitmap entry, using the
// alive set as it stood *before* this tick (oldAlive) both as the voter
// eligibility set and as the threshold denominator. This one consistent lag
// is what makes a node's own events at the instant it first crosses the
// grant threshold still gated as not-yet-alive (see package doc and
// DESIGN.md): the new alive set only becomes visible starting next tick.
func (l *membershipLedger) Step(interface{}) {
	at := object.Instant(len(l.history))
	oldAlive := l.pending.alive

	nodeCount := 0
	for _, v := range oldAlive {
		if v {
			nodeCount++
		}
	}

	known := map[object.ID]bool{BootstrapNode: true}
	for id := range l.pending.grants {
		known[id] = true
	}
	for id := range l.pending.denies {
		known[id] = true
	}

	newAlive := make(map[object.ID]bool, len(known))
	for id := range known {
		if id == BootstrapNode {
			newAlive[id] = true
			continue
		}

		// A node's own (possibly still-provisional) membership never counts
		// toward the pool it needs a majority of: otherwise a node admitted
		// on a single grant would raise the denominator against itself the
		// very next tick and immediately be voted back out, oscillating
		// forever.
		eligible := nodeCount
		if oldAlive[id] {
			eligible--
		}
		threshold := eligible/2 + 1

		grantVotes := 0
		for voter, eff := range l.pending.grants[id] {
			if voter != id && eff <= at && oldAlive[voter] {
				grantVotes++
			}
		}
		denyVotes := 0
		for voter, eff := range l.pending.denies[id] {
			if voter != id && eff <= at && oldAlive[voter] {
				denyVotes++
			}
		}
		newAlive[id] = grantVotes >= threshold && denyVotes < threshold
	}

	oldCount := 0
	for _, v := range oldAlive {
		if v {
			oldCount++
		}
	}
	newCount := 0
	for id, v := range newAlive {
		if v {
			newCount++
		}
		was := oldAlive[id]
		if v && !was {
			if _, seen := l.pending.aliveSince[id]; !seen {
				l.pending.aliveSince[id] = at
			}
		} else if !v && was {
			if _, seen := l.pending.deadSince[id]; !seen {
				l.pending.deadSince[id] = at
			}
		}
	}

	l.pending.alive = newAlive
	l.history = append(l.history, l.pending.clone())

	if delta := newCount - oldCount; delta != 0 && l.sink != nil {
		l.sink.NodeCountDelta(delta, at)
	}
}

func (l *membershipLedger) Rewind(t object.Instant) {
	l.history = l.history[:t+1]
	l.pending = l.history[t].clone()
}
