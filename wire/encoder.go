package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/praefectus/acktable"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/object"
)

// Encoder accumulates message segments into envelopes no larger than a
// configured MTU, signing each with an optional Signator and stamping it
// with an advisory serial number that is either private to this encoder or
// shared with others (e.g. every RPC encoder on a node sharing one counter,
// matching the original's distinction between per-channel and node-wide
// serial numbers).
type Encoder struct {
	flag        Flag
	signator    *dsa.Signator
	shared      *acktable.SerialNumber
	private     acktable.SerialNumber
	mtu         int
	reservation int
	instant     object.Instant

	pending     [][]byte
	pendingSize int
}

// NewEncoder returns an Encoder producing envelopes of the given Flag, no
// larger than mtu bytes, leaving reservation bytes of mtu permanently
// unused (for callers that append their own fixed trailer after encoding).
// If signator is nil, envelopes are left unsigned (hint and signature
// fields are zero). If serno is nil, the encoder keeps its own private
// counter instead of sharing one with other encoders.
func NewEncoder(flag Flag, signator *dsa.Signator, serno *acktable.SerialNumber, mtu, reservation int) *Encoder {
	return &Encoder{
		flag:        flag,
		signator:    signator,
		shared:      serno,
		mtu:         mtu,
		reservation: reservation,
	}
}

// SetInstant records the instant that should be stamped on every envelope
// produced from here on, including one currently being accumulated but not
// yet flushed. The owning Node/System calls this once per tick.
func (e *Encoder) SetInstant(instant object.Instant) { e.instant = instant }

func (e *Encoder) budget() int {
	return e.mtu - e.reservation - HeaderSize - 1 // -1 for the terminator byte
}

func (e *Encoder) serialNumber() acktable.SerialNumber {
	if e.shared != nil {
		return *e.shared
	}
	return e.private
}

func (e *Encoder) advanceSerialNumber() {
	if e.shared != nil {
		*e.shared++
	} else {
		e.private++
	}
}

// Append adds msg to the envelope currently being accumulated. If msg fits
// within the remaining budget, it returns (nil, false, nil) and msg is held
// for the next Flush. If it does not fit, whatever was already pending is
// finalized and returned, and msg becomes the start of a new pending
// envelope — mirroring the original's append-triggers-implicit-flush
// behavior, so the caller never loses a message by appending it too late.
func (e *Encoder) Append(msg Message) (envelope []byte, flushed bool, err error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return nil, false, err
	}
	if len(payload) > 255 {
		return nil, false, fmt.Errorf("wire: segment of %d bytes exceeds 255-byte limit", len(payload))
	}
	segSize := 1 + len(payload)

	if e.pendingSize+segSize > e.budget() {
		if len(e.pending) == 0 {
			return nil, false, fmt.Errorf("wire: message of %d bytes cannot fit in any envelope of this mtu", segSize)
		}
		out, err := e.flushLocked()
		if err != nil {
			return nil, false, err
		}
		e.pending = [][]byte{payload}
		e.pendingSize = segSize
		return out, true, nil
	}

	e.pending = append(e.pending, payload)
	e.pendingSize += segSize
	return nil, false, nil
}

// Flush finalizes whatever is currently pending into one envelope. Returns
// false if nothing was pending (a no-op, distinguishing a deliberate
// re-flush from one that actually produced bytes).
func (e *Encoder) Flush() ([]byte, bool, error) {
	if len(e.pending) == 0 {
		return nil, false, nil
	}
	out, err := e.flushLocked()
	return out, true, err
}

// Singleton encodes exactly one message as its own envelope immediately,
// ignoring (and not disturbing) whatever else might be pending.
func (e *Encoder) Singleton(msg Message) ([]byte, error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return e.encodeEnvelope([][]byte{payload})
}

func (e *Encoder) flushLocked() ([]byte, error) {
	out, err := e.encodeEnvelope(e.pending)
	e.pending = nil
	e.pendingSize = 0
	return out, err
}

func (e *Encoder) encodeEnvelope(segments [][]byte) ([]byte, error) {
	size := HeaderSize + 1
	for _, s := range segments {
		size += 1 + len(s)
	}

	buf := make([]byte, size)
	at := segmentsOffset
	for _, s := range segments {
		buf[at] = byte(len(s))
		at++
		copy(buf[at:], s)
		at += len(s)
	}
	// terminator byte at buf[at] is already zero.

	buf[SignableOffset] = byte(e.flag)
	binary.LittleEndian.PutUint32(buf[SignableOffset+flagSize:], uint32(e.instant))
	binary.LittleEndian.PutUint32(buf[SignableOffset+flagSize+instantSize:], uint32(e.serialNumber()))
	e.advanceSerialNumber()

	if e.signator != nil {
		sig := e.signator.Sign(buf[SignableOffset : size-1])
		copy(buf[hintSize:hintSize+SignatureSize], sig)
		hint := e.signator.PubkeyHint()
		binary.LittleEndian.PutUint16(buf[0:hintSize], uint16(hint))
	}

	return buf, nil
}
