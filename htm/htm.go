// Package htm implements a node's hash-tree memory (spec §6): a
// content-addressed store of every object a node has accepted, arranged so
// that two nodes can cheaply detect and resolve divergence by comparing
// directory summaries before falling back to a byte-range scan. Objects are
// deduplicated by the Keccak hash of their content; the instant attached to
// an insertion is metadata, not part of its identity.
package htm

import (
	"bytes"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/praefectus/object"
)

// HashSize is the width, in bytes, of every object hash.
const HashSize = 32

// Hash is the Keccak digest identifying an object by content.
type Hash [HashSize]byte

func hashOf(data []byte) Hash {
	sponge := sha3.NewLegacyKeccak256()
	sponge.Write(data)
	var h Hash
	copy(h[:], sponge.Sum(nil))
	return h
}

// AddResult reports what Add (or AddForeign) actually did.
type AddResult int

const (
	// Added means a new object was inserted under a freshly assigned ID.
	Added AddResult = iota
	// AlreadyPresent means an object with this exact content already
	// existed; the tree is unchanged, and the original insertion's instant
	// and ID are what callers will see on lookup.
	AlreadyPresent
)

// Ref is a read-only view of one object in a tree.
type Ref struct {
	ID      object.ID
	Instant object.Instant
	Data    []byte
	Hash    Hash
}

type entry struct {
	id      object.ID
	instant object.Instant
	data    []byte
	hash    Hash
}

func (e *entry) ref() Ref {
	return Ref{ID: e.id, Instant: e.instant, Data: e.data, Hash: e.hash}
}

// Tree is a node's hash-tree memory. Objects are addressed both by the ID
// assigned on insertion and by the hash of their content; a Fork produces an
// independent tree that starts out identical but is never affected by
// further insertions into (or forks of) the original, or vice versa.
type Tree struct {
	nextID object.ID
	byID   map[object.ID]*entry
	byHash map[Hash]*entry
	hashes []Hash // kept sorted ascending, for range queries
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		byID:   make(map[object.ID]*entry),
		byHash: make(map[Hash]*entry),
	}
}

// Add inserts data, recorded as having arrived at instant, and returns the
// ID it is (or was already) known by. Inserting content that already exists
// in this tree is a no-op beyond reporting AlreadyPresent: the original
// insertion's instant and ID win.
func (t *Tree) Add(instant object.Instant, data []byte) (object.ID, AddResult) {
	h := hashOf(data)
	if e, ok := t.byHash[h]; ok {
		return e.id, AlreadyPresent
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	t.nextID++
	e := &entry{id: t.nextID, instant: instant, data: cp, hash: h}
	t.insert(e)
	return e.id, Added
}

// AddForeign copies the object known as id in source into this tree,
// preserving its original ID, instant, and content. It is how a node adopts
// an object it learns about only by reference — e.g. from a peer's
// directory response — once it already holds (or is handed) the object's
// bytes via source. Returns AlreadyPresent if this tree already holds an
// object with the same content, false if source has no such ID.
func (t *Tree) AddForeign(source *Tree, id object.ID) (AddResult, bool) {
	src, ok := source.byID[id]
	if !ok {
		return Added, false
	}
	if _, ok := t.byHash[src.hash]; ok {
		return AlreadyPresent, true
	}

	cp := make([]byte, len(src.data))
	copy(cp, src.data)
	e := &entry{id: src.id, instant: src.instant, data: cp, hash: src.hash}
	t.insert(e)
	if e.id > t.nextID {
		t.nextID = e.id
	}
	return Added, true
}

func (t *Tree) insert(e *entry) {
	t.byID[e.id] = e
	t.byHash[e.hash] = e

	idx := sort.Search(len(t.hashes), func(i int) bool {
		return bytes.Compare(t.hashes[i][:], e.hash[:]) >= 0
	})
	t.hashes = append(t.hashes, Hash{})
	copy(t.hashes[idx+1:], t.hashes[idx:])
	t.hashes[idx] = e.hash
}

// GetID looks up an object by the ID it was assigned on insertion.
func (t *Tree) GetID(id object.ID) (Ref, bool) {
	e, ok := t.byID[id]
	if !ok {
		return Ref{}, false
	}
	return e.ref(), true
}

// GetHash looks up an object by the hash of its content.
func (t *Tree) GetHash(h Hash) (Ref, bool) {
	e, ok := t.byHash[h]
	if !ok {
		return Ref{}, false
	}
	return e.ref(), true
}

// Fork returns a new Tree with the same contents as t, independent of it:
// neither further insertions into t nor into the fork affect the other.
func (t *Tree) Fork() *Tree {
	f := &Tree{
		nextID: t.nextID,
		byID:   make(map[object.ID]*entry, len(t.byID)),
		byHash: make(map[Hash]*entry, len(t.byHash)),
		hashes: append([]Hash(nil), t.hashes...),
	}
	for id, e := range t.byID {
		cp := *e
		cp.data = append([]byte(nil), e.data...)
		f.byID[id] = &cp
		f.byHash[cp.hash] = &cp
	}
	return f
}

// Range returns every object whose hash is >= from and whose last byte,
// masked by mask, equals offset, in ascending hash order, up to limit
// entries. A mask of zero matches every hash when offset is zero and
// nothing when offset is nonzero — the predicate is evaluated literally,
// with no special-casing.
func (t *Tree) Range(from Hash, offset, mask byte, limit int) []Ref {
	idx := sort.Search(len(t.hashes), func(i int) bool {
		return bytes.Compare(t.hashes[i][:], from[:]) >= 0
	})

	var out []Ref
	for ; idx < len(t.hashes) && len(out) < limit; idx++ {
		h := t.hashes[idx]
		if h[HashSize-1]&mask != offset {
			continue
		}
		out = append(out, t.byHash[h].ref())
	}
	return out
}

// Len returns the number of objects visible in this tree.
func (t *Tree) Len() int { return len(t.hashes) }

// DirectorySize is the number of buckets a Directory summarizes a tree into,
// one per possible leading hash byte. This is a flattened, single-level
// stand-in for the original's recursive radix trie: enough to narrow a
// divergence to roughly 1/256th of a tree's contents in one round trip,
// without the added complexity of a paged, arbitrary-depth cursor that
// nothing else in this codebase needs to walk.
const DirectorySize = 256

// Directory summarizes a tree as one content hash per leading-byte bucket,
// letting two nodes compare directories and identify which buckets (and
// therefore which hash ranges) have diverged before falling back to Range.
// A zero entry means the bucket is empty.
type Directory [DirectorySize]Hash

// Directory computes t's current directory. It is always recomputed from
// the live hash set rather than cached, so a fork's directory is guaranteed
// independent of any insertion into the tree it was forked from.
func (t *Tree) Directory() Directory {
	var buckets [DirectorySize][]Hash
	for _, h := range t.hashes {
		b := h[0]
		buckets[b] = append(buckets[b], h)
	}

	var dir Directory
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		sponge := sha3.NewLegacyKeccak256()
		for _, h := range bucket { // already ascending: grouped from t.hashes, which is sorted
			sponge.Write(h[:])
		}
		copy(dir[i][:], sponge.Sum(nil))
	}
	return dir
}
