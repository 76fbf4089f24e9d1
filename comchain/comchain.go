// Package comchain tracks commitments and reveals from other nodes in
// order to determine what data they hold, and to produce that data for a
// node's own commitments (spec §4.4). A comchain is a sequence of
// commitments, each covering a half-open instant range and an expected
// second-order (Keccak) hash of the objects revealed within it; contiguous,
// validated commitments starting at instant zero define how far the chain
// can be trusted.
package comchain

import (
	"bytes"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/praefectus/object"
)

// HashSize is the width, in bytes, of every comchain hash.
const HashSize = 32

// Hash is a second-order (or leaf) Keccak hash used throughout a comchain.
type Hash [HashSize]byte

type commitmentStatus int

const (
	// pending commitments still track their constituent object hashes and
	// have not yet matched their expected hash.
	pending commitmentStatus = iota
	// validated commitments have matched their expected hash. This is
	// permanent only until a later reveal proves otherwise.
	validated
	// invalidated commitments have left the validated state, or were found
	// to contain contradictory information. This is permanent.
	invalidated
)

type commitObject struct {
	hash    Hash
	instant object.Instant
}

// commitment tracks one committed time range. Contiguous, non-pending
// neighbors are coalesced into one commitment as soon as both sides of the
// boundary are no longer pending, to keep the chain's size bounded.
type commitment struct {
	status  commitmentStatus
	start   object.Instant
	end     object.Instant
	hash    Hash
	pending map[Hash]object.Instant // meaningful only while status == pending
}

func newCommitment(start, end object.Instant, hash Hash) *commitment {
	return &commitment{
		status:  pending,
		start:   start,
		end:     end,
		hash:    hash,
		pending: make(map[Hash]object.Instant),
	}
}

// Comchain is a commitment chain: a sequence of non-overlapping commitments,
// plus any revealed objects that do not yet fall under a commitment.
type Comchain struct {
	commits []*commitment // sorted ascending by start
	byStart map[object.Instant]*commitment

	unassociated map[object.Instant]map[Hash]struct{}

	// invalid is set the moment any permanent error condition is detected:
	// overlapping commits, a previously-validated commit invalidated by a
	// later reveal, or a duplicate object hash. Once set it never clears.
	invalid bool
}

// New returns an empty Comchain.
func New() *Comchain {
	return &Comchain{
		byStart:      make(map[object.Instant]*commitment),
		unassociated: make(map[object.Instant]map[Hash]struct{}),
	}
}

// IsDead reports whether this comchain has entered a permanent error state.
// Once true, it is always true, and neither Committed nor Validated will
// advance any further.
func (c *Comchain) IsDead() bool { return c.invalid }

// Committed returns the end instant of the last commitment in the sequence
// of contiguous commitments starting at instant zero, or zero if there is
// no such sequence.
func (c *Comchain) Committed() object.Instant {
	if len(c.commits) == 0 || c.commits[0].start != 0 {
		return 0
	}

	commit := c.commits[0]
	i := 0
	for i+1 < len(c.commits) && commit.end == c.commits[i+1].start {
		i++
		commit = c.commits[i]
	}
	return commit.end
}

// Validated returns the end instant of the commitment at instant zero if it
// is currently validated, or zero otherwise. Because validated-or-better
// neighbors are always coalesced together, the commit at instant zero is
// the only one that needs checking: anything contiguous and non-pending
// after it has already been folded in.
func (c *Comchain) Validated() object.Instant {
	if len(c.commits) == 0 {
		return 0
	}
	commit := c.commits[0]
	if commit.start == 0 && commit.status == validated {
		return commit.end
	}
	return 0
}

// Commit introduces a commitment for [start, end) with the given expected
// hash. Overlapping commitments kill the chain permanently; a no-op once
// the chain is already dead, since nothing further can matter.
func (c *Comchain) Commit(start, end object.Instant, hash Hash) {
	if c.invalid {
		return
	}

	commit := newCommitment(start, end, hash)
	if !c.insertCommit(commit) {
		return
	}

	c.backfill(commit)
	c.rehash(commit)
	commit = c.coalesce(commit)
	if commit.status == invalidated {
		c.invalid = true
	}
}

// Reveal records the hash of an object at the given instant. If a
// commitment already covers that instant, the hash is folded into it
// immediately; otherwise it is held until a matching commitment shows up.
// Revealing the same object hash twice under the same commitment (or
// unassociated at the same instant) is a permanent error.
//
// Unlike Commit, Reveal is not gated on the chain already being dead: a
// commit once invalidated can still be coalesced with a neighbor as a
// direct result of a reveal, which is itself the mechanism by which a
// later reveal can retroactively roll a validated commit back.
func (c *Comchain) Reveal(instant object.Instant, hash Hash) {
	owner := c.findOwning(instant)
	if owner != nil && instant >= owner.start && instant < owner.end {
		if c.addObjectWithoutRehash(owner, commitObject{hash: hash, instant: instant}) {
			c.rehash(owner)
			owner = c.coalesce(owner)
		}
		if owner.status == invalidated {
			c.invalid = true
		}
		return
	}

	bucket, ok := c.unassociated[instant]
	if !ok {
		bucket = make(map[Hash]struct{})
		c.unassociated[instant] = bucket
	}
	if _, dup := bucket[hash]; dup {
		c.invalid = true
		return
	}
	bucket[hash] = struct{}{}
}

// CreateCommit computes the exact hash needed for a commitment over
// [start, end) given whatever has already been revealed in that range, adds
// it to the chain, and returns it. Returns false if the range conflicts
// with an existing commitment (which also kills the chain), never because
// of the hash itself: a commitment created this way is valid by
// construction, including the degenerate empty-range/no-objects case.
func (c *Comchain) CreateCommit(start, end object.Instant) (Hash, bool) {
	commit := newCommitment(start, end, Hash{})
	if !c.insertCommit(commit) {
		return Hash{}, false
	}

	c.backfill(commit)
	hash := computeHash(commit.pending)
	commit.hash = hash
	c.rehash(commit)
	c.coalesce(commit)
	return hash, true
}

// addObjectWithoutRehash adds obj to commit's pending set, reporting
// whether the commit needs to be rehashed as a result. If commit is no
// longer pending, or obj's hash is already recorded against it, the commit
// is invalidated instead and false is returned.
func (c *Comchain) addObjectWithoutRehash(commit *commitment, obj commitObject) bool {
	if commit.status != pending {
		commit.status = invalidated
		return false
	}
	if _, dup := commit.pending[obj.hash]; dup {
		commit.status = invalidated
		commit.pending = nil
		return false
	}
	commit.pending[obj.hash] = obj.instant
	return true
}

// rehash recomputes a pending commit's hash from its current object set and
// moves it to validated if it now matches. A no-op for a commit that is no
// longer pending.
func (c *Comchain) rehash(commit *commitment) {
	if commit.status != pending {
		return
	}
	if computeHash(commit.pending) == commit.hash {
		commit.pending = nil
		commit.status = validated
	}
}

// computeHash absorbs every hash in objs, sorted ascending, through a
// Keccak sponge. Sorting is what makes the second-order hash independent of
// reveal order.
func computeHash(objs map[Hash]object.Instant) Hash {
	hashes := make([]Hash, 0, len(objs))
	for h := range objs {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	sponge := sha3.NewLegacyKeccak256()
	for _, h := range hashes {
		sponge.Write(h[:])
	}

	var out Hash
	copy(out[:], sponge.Sum(nil))
	return out
}

// backfill moves every unassociated object within [commit.start, commit.end)
// into commit, without rehashing. Whether any individual move keeps the
// commit pending is irrelevant here; the caller rehashes once, afterward.
func (c *Comchain) backfill(commit *commitment) {
	for at := commit.start; at < commit.end; at++ {
		bucket, ok := c.unassociated[at]
		if !ok {
			continue
		}
		for h := range bucket {
			c.addObjectWithoutRehash(commit, commitObject{hash: h, instant: at})
		}
		delete(c.unassociated, at)
	}
}

// findOwning returns the commitment with the greatest start instant that is
// still <= instant, or nil if none exists. The caller must still check that
// instant falls before that commitment's end.
func (c *Comchain) findOwning(instant object.Instant) *commitment {
	idx := sort.Search(len(c.commits), func(i int) bool { return c.commits[i].start > instant })
	if idx == 0 {
		return nil
	}
	return c.commits[idx-1]
}

// indexOf returns commit's position in the sorted commits slice. A
// commitment's start never changes after insertion (only coalesce mutates
// end, and only for the surviving, left-hand commitment), so this is always
// a valid binary search.
func (c *Comchain) indexOf(commit *commitment) int {
	return sort.Search(len(c.commits), func(i int) bool { return c.commits[i].start >= commit.start })
}

// insertCommit adds commit to the chain in sorted order, checking for an
// exact start collision and for overlap with its new immediate neighbors.
// Either condition kills the chain permanently; on a start collision the new
// commit is discarded, but on an overlap it is left in the tree exactly as
// the original does, since nothing further will ever depend on its precise
// state once dead.
func (c *Comchain) insertCommit(commit *commitment) bool {
	if _, exists := c.byStart[commit.start]; exists {
		c.invalid = true
		return false
	}

	idx := c.insertSorted(commit)
	c.byStart[commit.start] = commit

	if idx > 0 && c.commits[idx-1].end > commit.start {
		c.invalid = true
		return false
	}
	if idx+1 < len(c.commits) && commit.end > c.commits[idx+1].start {
		c.invalid = true
		return false
	}

	return true
}

func (c *Comchain) insertSorted(commit *commitment) int {
	idx := sort.Search(len(c.commits), func(i int) bool { return c.commits[i].start >= commit.start })
	c.commits = append(c.commits, nil)
	copy(c.commits[idx+1:], c.commits[idx:])
	c.commits[idx] = commit
	return idx
}

func (c *Comchain) removeAt(idx int) {
	removed := c.commits[idx]
	delete(c.byStart, removed.start)
	c.commits = append(c.commits[:idx], c.commits[idx+1:]...)
}

// coalesce merges centre with its right neighbor, then with its (possibly
// new) left neighbor, whenever the pair is contiguous and neither side is
// pending. It returns whichever commitment survives: centre itself, or its
// left neighbor if centre ends up absorbed into it.
func (c *Comchain) coalesce(centre *commitment) *commitment {
	idx := c.indexOf(centre)
	if idx+1 < len(c.commits) {
		right := c.commits[idx+1]
		if coalescible(centre, right) {
			absorb(centre, right)
			c.removeAt(idx + 1)
		}
	}

	idx = c.indexOf(centre)
	if idx > 0 {
		left := c.commits[idx-1]
		if coalescible(left, centre) {
			absorb(left, centre)
			c.removeAt(idx)
			return left
		}
	}

	return centre
}

func coalescible(left, right *commitment) bool {
	return left.end == right.start && left.status != pending && right.status != pending
}

func absorb(left, right *commitment) {
	left.end = right.end
	if right.status == invalidated {
		left.status = invalidated
	}
}
