package comchain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/praefectus/object"
)

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

// commitHash computes the expected second-order hash for a commit whose
// objects are exactly the given hashes, the same way the implementation
// itself does. Tests that want a commit to validate against specific
// revealed objects must use this, not an arbitrary placeholder: the
// expected hash is a Keccak digest of the object hashes, not one of the
// object hashes itself.
func commitHash(hashes ...Hash) Hash {
	objs := make(map[Hash]object.Instant, len(hashes))
	for i, h := range hashes {
		objs[h] = object.Instant(i)
	}
	return computeHash(objs)
}

func TestLinearCommitThresholdAdvancesInOrder(t *testing.T) {
	source := New()
	source.Reveal(0, hashOf(1))
	hash, ok := source.CreateCommit(0, 1)
	require.True(t, ok)

	c := New()
	c.Commit(0, 1, hash)
	c.Reveal(0, hashOf(1))

	require.EqualValues(t, 1, c.Committed())
	require.EqualValues(t, 1, c.Validated())
	require.False(t, c.IsDead())
}

func TestNonlinearCommitThresholdAdvancesOnceContiguous(t *testing.T) {
	c := New()
	c.Commit(1, 2, hashOf(9))
	require.EqualValues(t, 0, c.Committed(), "nothing starts at instant zero yet")

	c.Commit(0, 1, hashOf(9))
	require.EqualValues(t, 2, c.Committed())
}

func TestSimultaneousOverlapInvalidatesChain(t *testing.T) {
	c := New()
	c.Commit(0, 2, hashOf(1))
	c.Commit(1, 3, hashOf(2))
	require.True(t, c.IsDead())
}

func TestPastOverlapInvalidatesChain(t *testing.T) {
	c := New()
	c.Commit(0, 2, hashOf(1))
	require.False(t, c.IsDead())
	c.Commit(1, 2, hashOf(2))
	require.True(t, c.IsDead())
}

func TestFutureOverlapInvalidatesChain(t *testing.T) {
	c := New()
	c.Commit(2, 4, hashOf(1))
	require.False(t, c.IsDead())
	c.Commit(1, 3, hashOf(2))
	require.True(t, c.IsDead())
}

func TestHashConsistentAcrossRevealOrder(t *testing.T) {
	a := New()
	a.Reveal(0, hashOf(1))
	a.Reveal(0, hashOf(2))
	hashA, ok := a.CreateCommit(0, 1)
	require.True(t, ok)

	b := New()
	b.Reveal(0, hashOf(2))
	b.Reveal(0, hashOf(1))
	hashB, ok := b.CreateCommit(0, 1)
	require.True(t, ok)

	require.Equal(t, hashA, hashB)
}

func TestCreateCommitProducesConsistentHash(t *testing.T) {
	c := New()
	c.Reveal(0, hashOf(7))
	hash, ok := c.CreateCommit(0, 1)
	require.True(t, ok)
	require.EqualValues(t, 1, c.Validated(), "a commit created from already-known objects matches immediately")

	other := New()
	other.Reveal(0, hashOf(7))
	other.Commit(0, 1, hash)
	require.EqualValues(t, 1, other.Validated(), "the pre-existing reveal already backfills and matches")
}

func TestCreateCommitFailsAndInvalidatesOnConflict(t *testing.T) {
	c := New()
	_, ok := c.CreateCommit(0, 1)
	require.True(t, ok)

	_, ok = c.CreateCommit(0, 2)
	require.False(t, ok)
	require.True(t, c.IsDead())
}

func TestLinearValidatedThresholdAdvances(t *testing.T) {
	c := New()
	c.Commit(0, 1, commitHash(hashOf(3)))
	c.Reveal(0, hashOf(3))
	require.EqualValues(t, 1, c.Validated())

	c.Commit(1, 2, commitHash(hashOf(4)))
	c.Reveal(1, hashOf(4))
	require.EqualValues(t, 2, c.Validated())
}

func TestNonlinearValidatedThresholdAdvancesOutOfOrder(t *testing.T) {
	c := New()
	c.Commit(1, 2, commitHash(hashOf(4)))
	c.Reveal(1, hashOf(4))
	require.EqualValues(t, 0, c.Validated(), "validated run must start at instant zero")

	c.Commit(0, 1, commitHash(hashOf(3)))
	c.Reveal(0, hashOf(3))
	require.EqualValues(t, 2, c.Validated())
}

func TestEmptyCommitBecomesValidImmediately(t *testing.T) {
	chains0 := New()
	hash, ok := chains0.CreateCommit(0, 1)
	require.True(t, ok)

	chains1 := New()
	chains1.Commit(0, 1, hash)

	require.EqualValues(t, 1, chains1.Committed())
	require.EqualValues(t, 1, chains1.Validated())
}

func TestValidatedCommitCanBeInvalidatedByLaterReveal(t *testing.T) {
	c := New()
	c.Commit(0, 1, commitHash(hashOf(5)))
	c.Reveal(0, hashOf(5))
	require.EqualValues(t, 1, c.Validated())
	require.False(t, c.IsDead())

	c.Reveal(0, hashOf(6))
	require.EqualValues(t, 0, c.Validated())
	require.True(t, c.IsDead())
}

func TestDuplicateObjectInCommitInvalidates(t *testing.T) {
	c := New()
	c.Commit(0, 2, hashOf(1))
	c.Reveal(0, hashOf(2))
	require.False(t, c.IsDead())
	c.Reveal(1, hashOf(2))
	require.True(t, c.IsDead())
}

func TestDuplicateUnassociatedObjectInvalidatesWhenClaimedByCommit(t *testing.T) {
	c := New()
	c.Reveal(0, hashOf(1))
	c.Reveal(1, hashOf(1))
	require.False(t, c.IsDead(), "same hash at different instants is not yet a conflict")

	c.Commit(0, 2, hashOf(9))
	require.True(t, c.IsDead(), "both copies land in the same commit's object set")
}

func TestValidInvalidCommitsCoalesceToInvalid(t *testing.T) {
	chains0 := New()
	chains0.Reveal(0, hashOf(1))
	hash, ok := chains0.CreateCommit(0, 2)
	require.True(t, ok)

	chains1 := New()
	chains1.Commit(0, 2, hash)
	chains1.Commit(2, 3, hash)

	chains1.Reveal(0, hashOf(1))
	require.EqualValues(t, 2, chains1.Validated())

	chains1.Reveal(0, hashOf(2))
	chains1.Reveal(2, hashOf(1))

	require.EqualValues(t, 0, chains1.Validated())
	require.True(t, chains1.IsDead())
}

func TestInvalidValidCommitsCoalesceToInvalid(t *testing.T) {
	chains0 := New()
	chains0.Reveal(0, hashOf(1))
	hash, ok := chains0.CreateCommit(0, 2)
	require.True(t, ok)

	chains1 := New()
	chains1.Commit(0, 2, hash)
	chains1.Commit(2, 3, hash)

	chains1.Reveal(2, hashOf(2))
	chains1.Reveal(2, hashOf(2))
	require.True(t, chains1.IsDead())

	chains1.Reveal(0, hashOf(1))
	require.EqualValues(t, 0, chains1.Validated())
	require.Len(t, chains1.commits, 1)
}

func TestCanAddObjectToCommitBeyondItsStart(t *testing.T) {
	chains0 := New()
	chains0.Reveal(2, hashOf(1))
	hash, ok := chains0.CreateCommit(0, 5)
	require.True(t, ok)

	chains1 := New()
	chains1.Commit(0, 5, hash)
	chains1.Reveal(2, hashOf(1))

	require.EqualValues(t, 5, chains1.Validated())
}

func TestDeadChainIgnoresFurtherCommits(t *testing.T) {
	c := New()
	c.Commit(0, 1, hashOf(1))
	c.Commit(0, 2, hashOf(2))
	require.True(t, c.IsDead())

	c.Commit(5, 6, hashOf(3))
	require.EqualValues(t, 1, c.Committed(), "a dead chain accepts no further real commits, so the run from the original commit is unchanged")
}

func TestRevealStillProcessesAfterChainIsDead(t *testing.T) {
	c := New()
	c.Commit(0, 1, hashOf(1))
	c.Commit(0, 2, hashOf(2))
	require.True(t, c.IsDead())

	// Reveal has no dead-chain fast path: unlike Commit, it keeps folding
	// objects into whatever commitment covers them even after the chain is
	// already invalidated, since this is itself how a later reveal can
	// still coalesce an invalidated commit into its neighbor.
	c.Reveal(0, hashOf(1))
	require.Contains(t, c.commits[0].pending, hashOf(1))
	require.True(t, c.IsDead())
}

func TestRevealInGapBetweenCommitsStaysUnassociated(t *testing.T) {
	c := New()
	c.Commit(0, 2, hashOf(1))
	c.Commit(4, 6, hashOf(2))

	c.Reveal(3, hashOf(5))
	_, ok := c.unassociated[3]
	require.True(t, ok, "instant 3 falls in the gap between commits and stays unassociated")
}

func TestIsDeadStaysTrueOnceSet(t *testing.T) {
	c := New()
	c.Commit(0, 2, hashOf(1))
	c.Commit(1, 3, hashOf(2))
	require.True(t, c.IsDead())

	c.Reveal(10, hashOf(3))
	c.Commit(10, 11, hashOf(4))
	require.True(t, c.IsDead())
}

func TestCommittedZeroWhenNoCommitAtInstantZero(t *testing.T) {
	c := New()
	c.Commit(1, 2, hashOf(1))
	require.EqualValues(t, object.Instant(0), c.Committed())
}
