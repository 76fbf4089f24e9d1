package wire

import (
	"encoding/asn1"
	"fmt"

	"github.com/luxfi/praefectus/comchain"
)

// MessageType tags which concrete message a segment's payload decodes as.
// The tag byte precedes the DER-encoded payload within the segment.
type MessageType byte

const (
	TypeAppData MessageType = iota + 1
	TypeDirectAck
	TypeIndirectAck
	TypeReceived
	TypeCommit
	TypeReveal
	TypeHTDirectoryQuery
	TypeHTDirectoryResponse
	TypeHTReadQuery
	TypeHTReadResponse
	TypeHTRangeQuery
	TypeHTRangeResponse
	TypeJoinRequest
	TypeJoinAccept
	TypeJoinTreeEntry
	TypeGetNetworkInfo
	TypeNetworkInfo
	TypeChmodVote
)

// Message is anything that can be carried as one envelope segment.
type Message interface {
	Type() MessageType
}

// AppData carries an application-defined, opaque payload (the original's
// "appuni" message).
type AppData struct {
	Data []byte
}

func (AppData) Type() MessageType { return TypeAppData }

// DirectAck reports, starting at Base, a bitmap of which advisory serial
// numbers the sender has itself received: bit i of Bitmap (MSB-first within
// each byte) corresponds to serial number Base+i.
type DirectAck struct {
	Base   int64
	Bitmap []byte
}

func (DirectAck) Type() MessageType { return TypeDirectAck }

// IndirectAck reports, on behalf of Node, the same kind of receipt bitmap
// as DirectAck, but as observed (and relayed) by a third party.
type IndirectAck struct {
	Node   int64
	Base   int64
	Bitmap []byte
}

func (IndirectAck) Type() MessageType { return TypeIndirectAck }

// Received notifies peers that the sender has received a specific advisory
// serial number directly, the unit message underlying DirectAck/IndirectAck
// bitmaps.
type Received struct {
	Serial int64
}

func (Received) Type() MessageType { return TypeReceived }

// Commit introduces a comchain commitment for [Start, End) with the given
// expected hash (spec §4.4).
type Commit struct {
	Start int64
	End   int64
	Hash  []byte
}

func (Commit) Type() MessageType { return TypeCommit }

// Valid reports whether Hash is the width a comchain commitment requires.
func (c Commit) Valid() bool { return len(c.Hash) == comchain.HashSize }

// Reveal discloses the hash of an object at Instant, for comchain
// validation.
type Reveal struct {
	Instant int64
	Hash    []byte
}

func (Reveal) Type() MessageType { return TypeReveal }

// Valid reports whether Hash is the width a comchain object hash requires.
func (r Reveal) Valid() bool { return len(r.Hash) == comchain.HashSize }

// HTDirectoryQuery asks a peer for a digest of its hash tree's current
// directory. The responder echoes Instant back in its HTDirectoryResponse;
// it does not answer as of that instant.
type HTDirectoryQuery struct {
	Instant int64
}

func (HTDirectoryQuery) Type() MessageType { return TypeHTDirectoryQuery }

// HTDirectoryResponse answers an HTDirectoryQuery.
type HTDirectoryResponse struct {
	Instant int64
	Hash    []byte
}

func (HTDirectoryResponse) Type() MessageType { return TypeHTDirectoryResponse }

// HTReadQuery asks a peer for the object stored under Hash.
type HTReadQuery struct {
	Hash []byte
}

func (HTReadQuery) Type() MessageType { return TypeHTReadQuery }

// HTReadResponse answers an HTReadQuery. Data is empty if the hash is
// unknown to the responder.
type HTReadResponse struct {
	Hash []byte
	Data []byte
}

func (HTReadResponse) Type() MessageType { return TypeHTReadResponse }

// HTRangeQuery asks a peer for every hash-tree entry whose hash, masked by
// Mask, equals Offset, continuing from From (spec §6 range scan).
type HTRangeQuery struct {
	Mask   int64
	Offset int64
	From   []byte
}

func (HTRangeQuery) Type() MessageType { return TypeHTRangeQuery }

// HTRangeResponse answers an HTRangeQuery with a page of matching hashes.
// Finished reports whether the scan has reached the end of the range.
type HTRangeResponse struct {
	Hashes   [][]byte
	Finished bool
}

func (HTRangeResponse) Type() MessageType { return TypeHTRangeResponse }

// JoinRequest is sent by a node attempting to join a system.
type JoinRequest struct {
	PublicKey  []byte
	Identifier []byte
	Auth       []byte `asn1:"optional"`
}

func (JoinRequest) Type() MessageType { return TypeJoinRequest }

// JoinAccept answers a JoinRequest, admitting the requester as of Instant.
type JoinAccept struct {
	Signature  []byte
	PublicKey  []byte
	Identifier []byte
	Auth       []byte `asn1:"optional"`
	Instant    int64
}

func (JoinAccept) Type() MessageType { return TypeJoinAccept }

// JoinTreeEntry is one DER-encoded past JoinAccept, pushed by the member
// answering a joiner's GetNetworkInfo so the joiner can catch up on
// membership. System fills only Node and Data.
type JoinTreeEntry struct {
	Node    int64
	Offset  int64
	NumKeys int64
	Data    []byte
}

func (JoinTreeEntry) Type() MessageType { return TypeJoinTreeEntry }

// GetNetworkInfo is the first message a joining node sends (triangular,
// unauthenticated) to a known member, asking it to describe the system
// (spec §4.7 join step 1). RetAddr carries the joiner's own address, since
// triangular routing may relay through a third party that can't infer it.
type GetNetworkInfo struct {
	RetAddr []byte
}

func (GetNetworkInfo) Type() MessageType { return TypeGetNetworkInfo }

// NetworkInfo answers a GetNetworkInfo (spec §4.7 join step 2): the salt
// used to derive object ids, the bootstrap node's id, the system's current
// instant, and a join tree summary. System leaves JoinTreeSummary empty and
// sends JoinTreeEntry messages for membership catch-up instead.
type NetworkInfo struct {
	SystemSalt      []byte
	BootstrapID     int64
	CurrentInstant  int64
	JoinTreeSummary []byte
}

func (NetworkInfo) Type() MessageType { return TypeNetworkInfo }

// ChmodVote carries one node's vote on another node's grant/deny mask,
// broadcast so every member's independent Metatransactor converges on the
// same membership decision (spec §4.3). Target is an object id, Effective
// the instant from which the vote takes effect, and Mask the bitmask being
// voted on (metatransactor.Grant or metatransactor.Deny).
type ChmodVote struct {
	Target    int64
	Mask      int64
	Effective int64
}

func (ChmodVote) Type() MessageType { return TypeChmodVote }

// EncodeMessage DER-encodes msg and prefixes it with its type tag, ready to
// be handed to an Encoder as one segment payload.
func EncodeMessage(msg Message) ([]byte, error) {
	body, err := asn1.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", msg, err)
	}
	out := make([]byte, 1+len(body))
	out[0] = byte(msg.Type())
	copy(out[1:], body)
	return out, nil
}

// DecodeMessage parses one segment payload (as returned by Envelope.
// Segments) back into its concrete Message.
func DecodeMessage(segment []byte) (Message, error) {
	if len(segment) == 0 {
		return nil, fmt.Errorf("wire: empty segment")
	}
	tag, body := MessageType(segment[0]), segment[1:]

	var msg Message
	switch tag {
	case TypeAppData:
		msg = new(AppData)
	case TypeDirectAck:
		msg = new(DirectAck)
	case TypeIndirectAck:
		msg = new(IndirectAck)
	case TypeReceived:
		msg = new(Received)
	case TypeCommit:
		msg = new(Commit)
	case TypeReveal:
		msg = new(Reveal)
	case TypeHTDirectoryQuery:
		msg = new(HTDirectoryQuery)
	case TypeHTDirectoryResponse:
		msg = new(HTDirectoryResponse)
	case TypeHTReadQuery:
		msg = new(HTReadQuery)
	case TypeHTReadResponse:
		msg = new(HTReadResponse)
	case TypeHTRangeQuery:
		msg = new(HTRangeQuery)
	case TypeHTRangeResponse:
		msg = new(HTRangeResponse)
	case TypeJoinRequest:
		msg = new(JoinRequest)
	case TypeJoinAccept:
		msg = new(JoinAccept)
	case TypeJoinTreeEntry:
		msg = new(JoinTreeEntry)
	case TypeGetNetworkInfo:
		msg = new(GetNetworkInfo)
	case TypeNetworkInfo:
		msg = new(NetworkInfo)
	case TypeChmodVote:
		msg = new(ChmodVote)
	default:
		return nil, fmt.Errorf("wire: unrecognized message type %d", tag)
	}

	rest, err := asn1.Unmarshal(body, msg)
	if err != nil {
		return nil, fmt.Errorf("wire: decode %T: %w", msg, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after %T", len(rest), msg)
	}

	// deref back to the value form so callers get Commit, not *Commit, etc.
	switch m := msg.(type) {
	case *AppData:
		return *m, nil
	case *DirectAck:
		return *m, nil
	case *IndirectAck:
		return *m, nil
	case *Received:
		return *m, nil
	case *Commit:
		return *m, nil
	case *Reveal:
		return *m, nil
	case *HTDirectoryQuery:
		return *m, nil
	case *HTDirectoryResponse:
		return *m, nil
	case *HTReadQuery:
		return *m, nil
	case *HTReadResponse:
		return *m, nil
	case *HTRangeQuery:
		return *m, nil
	case *HTRangeResponse:
		return *m, nil
	case *JoinRequest:
		return *m, nil
	case *JoinAccept:
		return *m, nil
	case *JoinTreeEntry:
		return *m, nil
	case *GetNetworkInfo:
		return *m, nil
	case *NetworkInfo:
		return *m, nil
	case *ChmodVote:
		return *m, nil
	}
	return msg, nil
}
