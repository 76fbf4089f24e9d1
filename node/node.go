// Package node holds the per-peer state a System keeps about one member:
// identity, network address, disposition, and the receive/reconciliation
// machinery (ack tables, comchain, hash-tree scan progress) that tracks
// what has been exchanged with that specific peer (spec §3, §4.7).
package node

import (
	"github.com/luxfi/praefectus/acktable"
	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/clock"
	"github.com/luxfi/praefectus/comchain"
	"github.com/luxfi/praefectus/htm"
	"github.com/luxfi/praefectus/object"
)

// Disposition records how a System currently regards a peer.
type Disposition int

const (
	// Neutral is the default: neither trusted nor distrusted yet.
	Neutral Disposition = iota
	// Positive means the peer has successfully joined and is in good
	// standing.
	Positive
	// Negative means the peer has been caught misbehaving (a duplicate
	// event, a chimera collision, a protocol violation) and is being
	// kicked.
	Negative
)

// String renders a Disposition for logging.
func (d Disposition) String() string {
	switch d {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "neutral"
	}
}

// Node is one member of a System as that System sees it: its own local
// node as well as every remote peer is represented by one of these.
type Node struct {
	// ID is this node's object identity within the owning System's
	// Metatransactor. Zero until a join has derived one (spec §4.7 step 3).
	ID object.ID
	// PublicKey is this node's signing key.
	PublicKey []byte
	// Addr is the network address this node is last known to be reachable
	// at.
	Addr bus.NetID

	Disposition Disposition

	// AckLocal tracks what this System has itself received from this node.
	AckLocal acktable.Local
	// AckRemote tracks what this node has reported receiving from the
	// local System, as of its last report.
	AckRemote acktable.Remote

	// Comchain is this node's commitment-chain log, as reconstructed from
	// its Commit/Reveal messages.
	Comchain *comchain.Comchain

	// HTM tracks this System's progress scanning this node's hash tree.
	HTM htm.Node

	// Source feeds this node's reported instants into the owning System's
	// Clock, so the trimmed-mean time sync in spec §4.6 actually accounts
	// for every peer instead of just local ticks. Lazily set on first
	// receipt, since a Clock must own the Source it returns from AddSource.
	Source *clock.Source

	// lastRecv is the instant a datagram was last received from this node,
	// mirroring Bus.LastRecv but tracked locally so liveness checks don't
	// need to round-trip through the bus.
	lastRecv     object.Instant
	everReceived bool
	nextSerial   acktable.SerialNumber
}

// New returns a Node for a peer identified by pubkey and reachable at addr,
// with no history yet.
func New(pubkey []byte, addr bus.NetID) *Node {
	return &Node{
		PublicKey: append([]byte(nil), pubkey...),
		Addr:      addr,
		Comchain:  comchain.New(),
	}
}

// Touch records that a datagram carrying advisory serial sn was just
// received from this node at instant now, updating both the liveness
// heartbeat and the local ack table.
func (n *Node) Touch(now object.Instant, sn acktable.SerialNumber, msg acktable.Message) {
	n.lastRecv = now
	n.everReceived = true
	n.AckLocal.Put(msg)
	if sn+1 > n.nextSerial {
		n.nextSerial = sn + 1
	}
}

// LastRecv returns the instant a datagram was last received from this
// node, and whether anything ever has been.
func (n *Node) LastRecv() (object.Instant, bool) {
	return n.lastRecv, n.everReceived
}

// NextSerial returns the advisory serial number one past the highest this
// node has received a datagram under, the value a reconciliation round
// should use as the remote base for this peer's AckRemote.
func (n *Node) NextSerial() acktable.SerialNumber {
	return n.nextSerial
}

// IsStale reports whether this node has gone quiet for threshold ticks or
// more since the last received datagram (or, if nothing has ever been
// received from it, whether now itself has reached threshold). System does
// not call it, so staleness alone neither demotes nor removes a peer.
func (n *Node) IsStale(now object.Instant, threshold object.Instant) bool {
	if !n.everReceived {
		return now >= threshold
	}
	return now-n.lastRecv >= threshold
}
