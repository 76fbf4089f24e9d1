package htm

import "github.com/luxfi/praefectus/object"

// System holds one node's hash-tree synchronization policy and the rolling
// window of past tree states it keeps in order to answer peers' directory
// and range queries as of some earlier instant, not just its live tree.
// Grounded on the original's praef_system_htm: config (RangeMax through
// RootQueryOffset) and runtime state (LastRootQuery, Snapshots) share one
// struct there too, rather than being split apart.
type System struct {
	// RangeMax bounds how many objects a single range query response may
	// carry.
	RangeMax int
	// RangeQueryInterval is the minimum spacing, in instants, between two
	// range queries this node issues to the same peer.
	RangeQueryInterval object.Instant
	// SnapshotInterval is how often, in instants, a new snapshot is taken.
	SnapshotInterval object.Instant
	// NumSnapshots bounds how many snapshots are retained; the oldest is
	// evicted once a new one would exceed it.
	NumSnapshots int
	// RootQueryInterval is the minimum spacing between asking a given peer
	// for its tree's current directory.
	RootQueryInterval object.Instant
	// RootQueryOffset staggers root queries to different peers so they
	// don't all land on the same instant.
	RootQueryOffset object.Instant

	lastRootQuery object.Instant
	snapshots     []Snapshot // most recent first
}

// Snapshot pairs a tree as it existed at Instant with that instant, so a
// node can answer "what did your tree look like as of X" without the live
// tree's ongoing inserts disturbing the answer.
type Snapshot struct {
	Instant object.Instant
	Tree    *Tree
}

// NewSystem returns a System with the given policy and no snapshots yet.
func NewSystem(rangeMax int, rangeQueryInterval, snapshotInterval object.Instant, numSnapshots int, rootQueryInterval, rootQueryOffset object.Instant) *System {
	return &System{
		RangeMax:           rangeMax,
		RangeQueryInterval: rangeQueryInterval,
		SnapshotInterval:   snapshotInterval,
		NumSnapshots:       numSnapshots,
		RootQueryInterval:  rootQueryInterval,
		RootQueryOffset:    rootQueryOffset,
	}
}

// MaybeSnapshot forks live (if now is at least SnapshotInterval past the
// most recent snapshot, or there are none yet) and records the result as
// the newest snapshot, evicting the oldest if NumSnapshots is exceeded.
// Returns whether a snapshot was actually taken.
func (s *System) MaybeSnapshot(now object.Instant, live *Tree) bool {
	if len(s.snapshots) > 0 && now-s.snapshots[0].Instant < s.SnapshotInterval {
		return false
	}
	s.snapshots = append([]Snapshot{{Instant: now, Tree: live.Fork()}}, s.snapshots...)
	if len(s.snapshots) > s.NumSnapshots {
		s.snapshots = s.snapshots[:s.NumSnapshots]
	}
	return true
}

// SnapshotAt returns the most recent snapshot no later than instant, or
// false if every retained snapshot is newer (or none exist).
func (s *System) SnapshotAt(instant object.Instant) (Snapshot, bool) {
	for _, snap := range s.snapshots {
		if snap.Instant <= instant {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// ShouldQueryRoot reports whether it is time to ask peerOffset's node for
// its tree directory again, given the instant of the last such query to
// that peer. RootQueryOffset stagers peers across the interval by their
// assigned offset so a node does not ask every peer in the same instant.
func (s *System) ShouldQueryRoot(now, lastQueried object.Instant, peerOffset object.Instant) bool {
	if now < s.RootQueryOffset+peerOffset {
		return false
	}
	return now-lastQueried >= s.RootQueryInterval
}

// Node tracks this node's progress scanning one peer's hash tree via
// successive range queries, resuming where the last query left off instead
// of starting over each time. Grounded on the original's praef_node_htm.
type Node struct {
	// RangeQueryOffset and RangeQueryMask select which bucket of the peer's
	// tree (by the predicate used in Tree.Range) this scan is narrowed to,
	// set once a directory comparison has located a divergent bucket.
	RangeQueryOffset byte
	RangeQueryMask   byte
	// NextRangeQuery is the hash to resume scanning from: the next query
	// asks for entries >= this value.
	NextRangeQuery Hash
	// HasFinishedRangeQuery is set once a scan has reached the end of its
	// bucket with nothing further to request.
	HasFinishedRangeQuery bool
	// LastRangeQuery is the instant the last range query was sent at.
	LastRangeQuery object.Instant
}

// Advance records that a range query just returned got entries (possibly
// none); the next query resumes just past the last entry returned, and the
// scan is marked finished once fewer than requested came back.
func (n *Node) Advance(now object.Instant, got []Ref, requested int) {
	n.LastRangeQuery = now
	if len(got) == 0 {
		n.HasFinishedRangeQuery = true
		return
	}
	n.NextRangeQuery = incrementHash(got[len(got)-1].Hash)
	n.HasFinishedRangeQuery = len(got) < requested
}

// incrementHash returns h+1 treated as a big-endian integer, saturating at
// all-0xFF rather than wrapping — there is nothing past the maximum hash to
// resume scanning from anyway.
func incrementHash(h Hash) Hash {
	out := h
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	return h // every byte was already 0xFF; saturate instead of wrapping to zero
}
