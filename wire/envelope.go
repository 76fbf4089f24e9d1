// Package wire implements the high-level message envelope (spec §4.7,
// "HLMSG"): every datagram exchanged between nodes is a signed, typed
// envelope carrying one or more application messages, chunked to fit a
// transport MTU. The envelope format and encoder chunking rules are
// grounded on the original's hl-msg test suite; the message vocabulary
// carried inside each segment is DER-encoded (encoding/asn1) since the
// upstream ASN.1 module itself isn't part of this pack (see DESIGN.md).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/praefectus/acktable"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/object"
)

// Flag classifies an envelope the way a node's comchain/ack-table logic
// needs to treat it: whether it is already covered by a commitment, still
// pending one, or a bare RPC that never enters the comchain at all.
type Flag byte

const (
	// Committed envelopes carry data already folded into a validated
	// commitment, and so are safe to redistribute indefinitely.
	Committed Flag = iota
	// Uncommitted envelopes carry data not yet committed; a node stops
	// redistributing these once they fall out of its commit horizon.
	Uncommitted
	// RPC envelopes are never part of the commit history: queries,
	// acknowledgements, and other transient protocol chatter.
	RPC
)

// Valid reports whether f is one of the three defined flag values.
func (f Flag) Valid() bool { return f <= RPC }

const (
	hintSize   = 2
	flagSize   = 1
	instantSize = 4
	sernoSize  = 4
)

// SignatureSize is the width, in bytes, of the envelope's signature field.
// Unlike the original C implementation (which reserved 32 bytes for a
// scheme never actually wired up), this matches the real ed25519 signature
// width the dsa package produces.
const SignatureSize = dsa.SignatureSize

// HeaderSize is the number of fixed-layout bytes at the start of every
// envelope, before its first segment: pubkey hint, signature, flag,
// instant, and advisory serial number.
const HeaderSize = hintSize + SignatureSize + flagSize + instantSize + sernoSize

// SignableOffset is the offset at which the portion of the envelope that
// gets signed begins: everything after the hint and signature fields
// themselves.
const SignableOffset = hintSize + SignatureSize

// ErrTruncated is returned when a buffer is too short to be a well-formed
// envelope.
var ErrTruncated = errors.New("wire: truncated envelope")

// ErrInvalidFlag is returned when an envelope's flag byte is not one of the
// defined Flag values.
var ErrInvalidFlag = errors.New("wire: invalid flag")

// ErrNoSegments is returned when an envelope carries no segments at all, or
// its segment list is not properly terminated.
var ErrNoSegments = errors.New("wire: no segments")

// ErrBadSegment is returned when a segment's declared length runs past the
// end of the buffer.
var ErrBadSegment = errors.New("wire: segment overruns buffer")

// Envelope is a read-only view over an encoded HLMSG buffer. It never
// copies or mutates the underlying bytes; Parse and Validate are what
// check that those bytes are well-formed.
type Envelope struct {
	data []byte
}

// Of wraps an arbitrary byte array as an Envelope without validating it,
// mirroring praef_hlmsg_of: useful for constructing a message purely to
// carry opaque bytes across a transport that itself guarantees framing
// (e.g. a length-prefixed TCP stream), with no segment structure at all.
func Of(data []byte) *Envelope {
	cp := make([]byte, len(data)+1)
	copy(cp, data)
	return &Envelope{data: cp}
}

// Bytes returns the envelope's raw encoded form.
func (e *Envelope) Bytes() []byte { return e.data }

// PubkeyHint returns the signing key hint recorded in the envelope header.
func (e *Envelope) PubkeyHint() dsa.PubkeyHint {
	return dsa.PubkeyHint(binary.LittleEndian.Uint16(e.data[0:hintSize]))
}

// Signature returns the envelope's signature field.
func (e *Envelope) Signature() []byte {
	return e.data[hintSize : hintSize+SignatureSize]
}

// Type returns the envelope's Flag.
func (e *Envelope) Type() Flag {
	return Flag(e.data[SignableOffset])
}

// Instant returns the instant this envelope was produced at.
func (e *Envelope) Instant() object.Instant {
	return object.Instant(binary.LittleEndian.Uint32(e.data[SignableOffset+flagSize:]))
}

// SerialNumber returns the envelope's advisory serial number.
func (e *Envelope) SerialNumber() acktable.SerialNumber {
	return acktable.SerialNumber(binary.LittleEndian.Uint32(
		e.data[SignableOffset+flagSize+instantSize:]))
}

// Signable returns the portion of the envelope that is (or should be)
// covered by its signature: everything after the hint and signature fields.
func (e *Envelope) Signable() []byte {
	return e.data[SignableOffset : len(e.data)-1]
}

// segmentsOffset is where the first length-prefixed segment begins.
const segmentsOffset = SignableOffset + flagSize + instantSize + sernoSize

// Segments returns every message segment carried by this envelope, each as
// the raw bytes a Decode call expects. It assumes the envelope has already
// been validated; behavior on a malformed envelope is undefined.
func (e *Envelope) Segments() [][]byte {
	var out [][]byte
	at := segmentsOffset
	for at < len(e.data) {
		n := int(e.data[at])
		at++
		if n == 0 {
			break
		}
		out = append(out, e.data[at:at+n])
		at += n
	}
	return out
}

// Validate reports whether data is a structurally well-formed envelope:
// long enough to hold a header, carrying a recognized flag, terminated by a
// zero-length segment marker, containing at least one real segment, and
// with every segment's declared length actually present in the buffer.
// It does not check the signature; that is the caller's responsibility
// once it knows which key supposedly produced it.
func Validate(data []byte) (*Envelope, error) {
	if len(data) < HeaderSize+1 {
		return nil, ErrTruncated
	}
	e := &Envelope{data: data}
	if !e.Type().Valid() {
		return nil, ErrInvalidFlag
	}

	at := segmentsOffset
	segments := 0
	for {
		if at >= len(data) {
			return nil, ErrNoSegments
		}
		n := int(data[at])
		at++
		if n == 0 {
			break
		}
		if at+n > len(data) {
			return nil, ErrBadSegment
		}
		at += n
		segments++
	}
	if segments == 0 {
		return nil, ErrNoSegments
	}
	if at != len(data) {
		return nil, fmt.Errorf("wire: %d trailing bytes after terminator", len(data)-at)
	}
	return e, nil
}

// Verify checks Validate(data), then confirms the envelope's signature
// against verifier, returning the signing node's identity. A RPC envelope
// or one with a nil signature requirement can simply skip this and trust
// Validate alone, per the caller's own policy.
func Verify(data []byte, verifier *dsa.Verifier) (*Envelope, object.ID, error) {
	e, err := Validate(data)
	if err != nil {
		return nil, 0, err
	}
	origin, ok := verifier.Verify(e.PubkeyHint(), e.Signature(), e.Signable())
	if !ok {
		return nil, 0, fmt.Errorf("wire: signature does not verify")
	}
	return e, origin, nil
}
