// Package system is the top-level orchestrator of one node's membership in
// a praefectus system (spec §4.7, §5, §6): it owns the wire encoders, the
// membership Metatransactor, per-peer Node state, and every pacing loop
// (ack reconciliation, comchain commitment, hash-tree gossip) that keeps
// this node synchronized with its peers over a bus.Bus transport.
package system

import (
	"bytes"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/crypto/sha3"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/praefectus/acktable"
	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/clock"
	"github.com/luxfi/praefectus/comchain"
	"github.com/luxfi/praefectus/config"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/htm"
	plog "github.com/luxfi/praefectus/log"
	"github.com/luxfi/praefectus/metatransactor"
	"github.com/luxfi/praefectus/metrics"
	"github.com/luxfi/praefectus/node"
	"github.com/luxfi/praefectus/object"
	"github.com/luxfi/praefectus/set"
	"github.com/luxfi/praefectus/utils/bag"
	"github.com/luxfi/praefectus/wire"
)

// System is one node's view of, and participation in, a praefectus system.
type System struct {
	bus      bus.Bus
	addr     bus.NetID
	signator *dsa.Signator
	verifier *dsa.Verifier
	params   config.Parameters
	metrics  *metrics.Metrics
	log      plog.Logger

	salt []byte

	selfID object.ID
	status Status

	meta *metatransactor.Metatransactor

	peers    map[object.ID]*node.Node
	byAddr   map[bus.NetID]object.ID
	idPubkey map[object.ID][]byte
	known    set.Set[object.ID]

	// joinVotes tallies, per join candidate, which voters have been
	// observed casting a Grant vote. It is a raw, unbounded-history
	// observation log for introspection: the Metatransactor's own ledger,
	// not this tally, is what actually decides membership.
	joinVotes map[object.ID]*bag.Bag[object.ID]

	selfComchain *comchain.Comchain
	selfClock    *clock.Clock

	serial         acktable.SerialNumber
	rpcEnc         *wire.Encoder
	committedEnc   *wire.Encoder
	uncommittedEnc *wire.Encoder

	sentLog acktable.Local

	liveTree  *htm.Tree
	htmPolicy *htm.System

	now object.Instant

	commitCursor object.Instant

	lastDirectAck   map[object.ID]object.Instant
	lastIndirectAck map[object.ID]object.Instant
	lastHTMRoot     map[object.ID]object.Instant

	introducerAddr bus.NetID

	inbox [][]byte
}

func newBase(b bus.Bus, addr bus.NetID, params config.Parameters, signator *dsa.Signator, reg prometheus.Registerer, logger plog.Logger) *System {
	s := &System{
		bus:      b,
		addr:     addr,
		signator: signator,
		verifier: dsa.NewVerifier(),
		params:   params,
		metrics:  metrics.New(reg),
		log:      plog.OrNoOp(logger),

		meta: metatransactor.New(nil),

		peers:    make(map[object.ID]*node.Node),
		byAddr:   make(map[bus.NetID]object.ID),
		idPubkey: make(map[object.ID][]byte),
		known:    set.Of[object.ID](),

		joinVotes: make(map[object.ID]*bag.Bag[object.ID]),

		selfComchain: comchain.New(),
		selfClock:    clock.New(uint(params.StdLatency)*4, uint(params.StdLatency)),

		liveTree: htm.New(),
		htmPolicy: htm.NewSystem(
			params.HTRangeMax,
			object.Instant(params.HTRangeQueryInterval),
			object.Instant(params.HTSnapshotInterval),
			params.HTNumSnapshots,
			object.Instant(params.HTRootQueryInterval),
			object.Instant(params.HTRootQueryOffset),
		),

		lastDirectAck:   make(map[object.ID]object.Instant),
		lastIndirectAck: make(map[object.ID]object.Instant),
		lastHTMRoot:     make(map[object.ID]object.Instant),
	}

	s.rpcEnc = wire.NewEncoder(wire.RPC, signator, &s.serial, int(params.MTU), 0)
	s.committedEnc = wire.NewEncoder(wire.Committed, signator, &s.serial, int(params.MTU), 0)
	s.uncommittedEnc = wire.NewEncoder(wire.Uncommitted, signator, &s.serial, int(params.MTU), 0)

	return s
}

// NewBootstrap returns a System that is, by construction, already a member
// of the system it founds: its own object id is metatransactor.BootstrapNode
// and it is alive from the first tick.
func NewBootstrap(b bus.Bus, addr bus.NetID, params config.Parameters, signator *dsa.Signator, reg prometheus.Registerer, logger plog.Logger) *System {
	s := newBase(b, addr, params, signator, reg, logger)
	s.selfID = metatransactor.BootstrapNode
	s.status = OK
	s.salt = randomSalt()
	s.known.Add(s.selfID)
	return s
}

// NewJoiner returns a System that immediately begins the join protocol
// (spec §4.7 join step 1) against a known member reachable at introducer.
func NewJoiner(b bus.Bus, addr, introducer bus.NetID, params config.Parameters, signator *dsa.Signator, reg prometheus.Registerer, logger plog.Logger) *System {
	s := newBase(b, addr, params, signator, reg, logger)
	s.status = Anonymous
	s.introducerAddr = introducer

	s.bus.CreateRoute(introducer)
	s.sendRPCTriangular(introducer, wire.GetNetworkInfo{RetAddr: encodeNetID(addr)})
	return s
}

func randomSalt() []byte {
	salt := make([]byte, 32)
	_, _ = cryptorand.Read(salt)
	return salt
}

// Status returns this node's current Status.
func (s *System) Status() Status { return s.status }

// ID returns this node's object id, or zero if it has not yet been derived
// (Status() == Anonymous).
func (s *System) ID() object.ID { return s.selfID }

// Addr returns this node's own network address.
func (s *System) Addr() bus.NetID { return s.addr }

// NumPeers returns the number of distinct remote peers this node has ever
// registered, regardless of their current disposition.
func (s *System) NumPeers() int { return len(s.peers) }

// Peers returns the object ids of every node (including this one) ever
// registered in this system's membership roster.
func (s *System) Peers() []object.ID { return s.known.List() }

// Metatransactor returns this node's own membership/event ledger, for
// embedders that want to layer node-gated application events on top of it
// (see examples/nbodies).
func (s *System) Metatransactor() *metatransactor.Metatransactor { return s.meta }

// Now returns the current local instant.
func (s *System) Now() object.Instant { return s.now }

// Advance runs delta ticks of this System's event loop: draining and
// dispatching every already-arrived datagram, running every pacing
// routine, and advancing the membership ledger and local clock by one
// tick per iteration. It returns the Status after the final tick.
func (s *System) Advance(delta object.Instant) Status {
	for i := object.Instant(0); i < delta; i++ {
		s.tick()
	}
	return s.status
}

func (s *System) tick() {
	for {
		from, data, ok := s.bus.Recv()
		if !ok {
			break
		}
		s.handleDatagram(from, data)
	}

	for _, peer := range s.peers {
		if peer.Disposition == node.Negative {
			continue
		}
		s.paceAck(peer)
		s.paceIndirectAck(peer)
		s.paceHTM(peer)
	}
	s.paceCommit()

	s.meta.Advance(1, nil)
	s.selfClock.Tick(1, true)
	s.now = s.selfClock.Monotime

	s.rpcEnc.SetInstant(s.now)
	s.committedEnc.SetInstant(s.now)
	s.uncommittedEnc.SetInstant(s.now)

	s.metrics.NodesAlive.Set(float64(s.meta.NodeCount()))

	s.recomputeStatus()
}

func (s *System) recomputeStatus() {
	switch {
	case s.status == Kicked || s.status == Fatal:
		return
	case s.selfID == 0:
		s.status = Anonymous
	case s.meta.Alive(s.selfID):
		s.status = OK
	case s.status == OK:
		s.status = Kicked
		s.log.Warn("local node kicked", "id", s.selfID)
	default:
		s.status = PendingGrant
	}
}

// Send broadcasts data as an application payload. It is delivered to every
// other System in the bus that admits this node's broadcasts.
func (s *System) Send(data []byte) {
	payload := append([]byte(nil), data...)
	s.selfComchain.Reveal(s.now, contentHash(payload))

	enc, err := s.uncommittedEnc.Singleton(wire.AppData{Data: payload})
	if err != nil {
		s.log.Warn("failed to encode app data", "error", err)
		return
	}
	if env, verr := wire.Validate(enc); verr == nil {
		s.sentLog.Put(sentEnvelope{serial: env.SerialNumber(), data: enc})
	}
	s.metrics.MessagesSent.Inc()
	s.bus.Broadcast(enc)
}

// Recv returns the next application payload received from a verified peer,
// in arrival order, or ok=false if none is waiting.
func (s *System) Recv() (data []byte, ok bool) {
	if len(s.inbox) == 0 {
		return nil, false
	}
	data = s.inbox[0]
	s.inbox = s.inbox[1:]
	return data, true
}

// sentEnvelope is a previously-sent, non-RPC envelope kept around long
// enough for acktable.FindMissing to identify it as needing retransmission.
type sentEnvelope struct {
	serial acktable.SerialNumber
	data   []byte
}

func (e sentEnvelope) SerialNumber() acktable.SerialNumber { return e.serial }

// recvMarker records only the serial number of a received datagram, for
// Node.Touch/AckLocal bookkeeping that never needs the payload back.
type recvMarker acktable.SerialNumber

func (m recvMarker) SerialNumber() acktable.SerialNumber { return acktable.SerialNumber(m) }

func (s *System) singletonRPC(msg wire.Message) []byte {
	data, err := s.rpcEnc.Singleton(msg)
	if err != nil {
		s.log.Warn("failed to encode message", "type", fmt.Sprintf("%T", msg), "error", err)
		return nil
	}
	s.metrics.MessagesSent.Inc()
	return data
}

func (s *System) sendRPC(to bus.NetID, msg wire.Message) {
	data := s.singletonRPC(msg)
	if data == nil {
		return
	}
	s.bus.Unicast(to, data)
}

func (s *System) sendRPCTriangular(to bus.NetID, msg wire.Message) {
	data := s.singletonRPC(msg)
	if data == nil {
		return
	}
	s.bus.TriangularUnicast(to, data)
}

func (s *System) broadcastRPC(msg wire.Message) {
	data := s.singletonRPC(msg)
	if data == nil {
		return
	}
	s.bus.Broadcast(data)
}

// deriveObjectID computes the object id a node with the given pubkey would
// be assigned under salt (spec §4.7 step 3): the low 4 bytes of
// Keccak256(salt||pubkey), rejecting the two ids a real node may never
// hold (0, the sentinel empty id, and metatransactor.BootstrapNode).
func deriveObjectID(salt, pubkey []byte) (object.ID, bool) {
	sponge := sha3.NewLegacyKeccak256()
	sponge.Write(salt)
	sponge.Write(pubkey)
	sum := sponge.Sum(nil)
	id := object.ID(binary.BigEndian.Uint32(sum[len(sum)-4:]))
	if id == 0 || id == metatransactor.BootstrapNode {
		return 0, false
	}
	return id, true
}

// contentHash is the Keccak256 digest used to feed a comchain Reveal.
func contentHash(data []byte) comchain.Hash {
	sponge := sha3.NewLegacyKeccak256()
	sponge.Write(data)
	var h comchain.Hash
	copy(h[:], sponge.Sum(nil))
	return h
}

// directoryDigest collapses a 256-bucket htm.Directory into the single hash
// an HTDirectoryResponse carries.
func directoryDigest(dir htm.Directory) []byte {
	sponge := sha3.NewLegacyKeccak256()
	for _, bucket := range dir {
		sponge.Write(bucket[:])
	}
	return sponge.Sum(nil)
}

func toComchainHash(b []byte) comchain.Hash {
	var h comchain.Hash
	copy(h[:], b)
	return h
}

func toHTMHash(b []byte) htm.Hash {
	var h htm.Hash
	copy(h[:], b)
	return h
}

// encodeNetID renders a bus.NetID as a self-delimiting byte string, carried
// inside GetNetworkInfo.RetAddr and JoinRequest/JoinAccept.Identifier.
func encodeNetID(id bus.NetID) []byte {
	intranet := []byte(id.Intranet.String())
	out := make([]byte, 0, 2+len(intranet))
	out = append(out, byte(len(intranet)))
	out = append(out, intranet...)
	if id.HasInternet {
		internet := []byte(id.Internet.String())
		out = append(out, byte(len(internet)))
		out = append(out, internet...)
	} else {
		out = append(out, 0)
	}
	return out
}

// decodeNetID is the inverse of encodeNetID.
func decodeNetID(data []byte) (bus.NetID, bool) {
	if len(data) == 0 {
		return bus.NetID{}, false
	}
	n := int(data[0])
	if len(data) < 1+n {
		return bus.NetID{}, false
	}
	intranet, err := parseAddrPort(data[1 : 1+n])
	if err != nil {
		return bus.NetID{}, false
	}

	rest := data[1+n:]
	if len(rest) == 0 || rest[0] == 0 {
		return bus.NetID{Intranet: intranet}, true
	}
	m := int(rest[0])
	if len(rest) < 1+m {
		return bus.NetID{Intranet: intranet}, true
	}
	internet, err := parseAddrPort(rest[1 : 1+m])
	if err != nil {
		return bus.NetID{Intranet: intranet}, true
	}
	return bus.NetID{Intranet: intranet, Internet: internet, HasInternet: true}, true
}

func parseAddrPort(b []byte) (netip.AddrPort, error) {
	return netip.ParseAddrPort(string(b))
}

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
