// Package dsa provides the digital-signature contract the rest of the
// runtime treats as an external collaborator (spec §4.7): a Signator holds
// one node's keypair and signs outgoing data, while a Verifier associates
// known public keys with object identities and checks incoming signatures
// against them. The wire format and hashing are ours to define even though
// the primitives themselves are ed25519.
package dsa

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/praefectus/object"
)

// PubkeySize is the width, in bytes, of an ed25519 public key.
const PubkeySize = ed25519.PublicKeySize

// SignatureSize is the width, in bytes, of an ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// PubkeyHint narrows a Verifier's search for the key that produced a given
// signature to those sharing the same hint, without requiring a linear scan
// of every associated key. Collisions are expected and must still be
// resolved correctly by trying every key under the hint.
type PubkeyHint uint16

// Signator holds one node's keypair and signs data on its behalf.
type Signator struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	hint    PubkeyHint
}

// NewSignator generates a fresh ed25519 keypair.
func NewSignator() (*Signator, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dsa: generate key: %w", err)
	}
	return &Signator{public: pub, private: priv, hint: hintOf(pub)}, nil
}

// Pubkey returns this signator's public key.
func (s *Signator) Pubkey() []byte {
	out := make([]byte, PubkeySize)
	copy(out, s.public)
	return out
}

// PubkeyHint returns the hint derived from this signator's public key. It is
// cheap to compute up front since the key never changes.
func (s *Signator) PubkeyHint() PubkeyHint { return s.hint }

// Sign returns the ed25519 signature of data under this signator's private
// key.
func (s *Signator) Sign(data []byte) []byte {
	return ed25519.Sign(s.private, data)
}

// hintOf derives a PubkeyHint from a public key by hashing it with SHA3-256
// first, rather than truncating the raw key directly: the raw key bytes are
// effectively random already, but hashing keeps the hint from ever leaking
// adjacent key material.
func hintOf(pubkey ed25519.PublicKey) PubkeyHint {
	sum := sha3.Sum256(pubkey)
	return PubkeyHint(binary.BigEndian.Uint16(sum[:2]))
}

// registration is one public key a Verifier has been told to trust, and the
// object identity that owns it.
type registration struct {
	pubkey ed25519.PublicKey
	origin object.ID
}

// Verifier associates public keys with object identities and checks
// incoming signatures against them. A single Verifier instance is meant to
// hold every key a node needs to check, keyed by PubkeyHint to avoid
// checking a signature against every known key in turn.
type Verifier struct {
	byHint map[PubkeyHint][]*registration
	byKey  map[string]*registration
}

// NewVerifier returns a Verifier with no associated keys.
func NewVerifier() *Verifier {
	return &Verifier{
		byHint: make(map[PubkeyHint][]*registration),
		byKey:  make(map[string]*registration),
	}
}

// Assoc registers pubkey as belonging to origin. Returns false, making no
// change, if pubkey is already associated with anything.
func (v *Verifier) Assoc(pubkey []byte, origin object.ID) bool {
	key := string(pubkey)
	if _, exists := v.byKey[key]; exists {
		return false
	}

	reg := &registration{pubkey: append([]byte(nil), pubkey...), origin: origin}
	v.byKey[key] = reg

	hint := hintOf(reg.pubkey)
	v.byHint[hint] = append(v.byHint[hint], reg)
	return true
}

// IsAssoc reports whether pubkey is currently associated with an origin.
func (v *Verifier) IsAssoc(pubkey []byte) bool {
	_, exists := v.byKey[string(pubkey)]
	return exists
}

// Disassoc removes pubkey's association, if any. Returns false if pubkey was
// not associated, so the caller can tell a first disassociation from a
// repeated one.
func (v *Verifier) Disassoc(pubkey []byte) bool {
	key := string(pubkey)
	reg, exists := v.byKey[key]
	if !exists {
		return false
	}
	delete(v.byKey, key)

	hint := hintOf(reg.pubkey)
	bucket := v.byHint[hint]
	for i, r := range bucket {
		if r == reg {
			v.byHint[hint] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(v.byHint[hint]) == 0 {
		delete(v.byHint, hint)
	}
	return true
}

// Verify checks signature against data for every key associated under hint,
// returning the origin of whichever key's signature validates. Returns
// (0, false) if hint matches no associated key, or if signature fails to
// validate against all keys that share it: a wrong hint is rejected even if
// some other associated key's signature would otherwise have validated,
// since the hint is the caller's claim about which key produced it.
func (v *Verifier) Verify(hint PubkeyHint, signature, data []byte) (object.ID, bool) {
	if len(signature) != SignatureSize {
		return 0, false
	}
	for _, reg := range v.byHint[hint] {
		if ed25519.Verify(reg.pubkey, data, signature) {
			return reg.origin, true
		}
	}
	return 0, false
}

// ConstantTimeEqual reports whether two byte slices are equal, in time
// independent of where they first differ. Exposed for callers that compare
// raw key or signature material outside of Verify.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
