package bus

import (
	"math/rand"
	"net/netip"

	"github.com/luxfi/praefectus/object"
)

// Link holds one direction of simulated-network behavior between two
// virtual buses: delay, packet loss, duplication, and NAT/firewall
// stubbornness. Grounded on the original's praef_virtual_network_link.
// Callers obtain one via VirtualBus.Link and mutate its fields directly to
// configure a scenario, the same way the original hands back a mutable
// struct pointer.
type Link struct {
	// BaseLatency is the guaranteed minimum delay, in Advance units, before
	// a packet sent over this link can arrive.
	BaseLatency uint64
	// VariableLatency is the maximum additional random delay layered on top
	// of BaseLatency.
	VariableLatency uint64
	// FirewallGracePeriod is how long, after the receiving bus last deleted
	// its route back to the sender or sent the sender a packet (whichever
	// is later), a plain Unicast along this link keeps being admitted. Zero
	// means the receiver must hold an explicit open route to the sender at
	// the moment of send. TriangularUnicast ignores this filter entirely.
	FirewallGracePeriod uint64
	// Reliability is the probability, out of 65536, that a single send
	// attempt survives to be scheduled for delivery. 0 means total loss;
	// the default is 0xFFFF, effectively always.
	Reliability uint16
	// Duplicity is the probability, out of 65536, that a send attempt (or
	// one of its duplicates) spawns an independent duplicate, itself
	// subject to Reliability, latency, and further duplication. 0 (the
	// default) never duplicates.
	Duplicity uint16
}

func defaultLink() *Link {
	return &Link{Reliability: 0xFFFF}
}

type inFlightPacket struct {
	from, to  *VirtualBus
	data      []byte
	deliverAt uint64
}

type inboxEntry struct {
	from NetID
	data []byte
}

// VirtualNetwork is an in-process simulated network: a set of VirtualBus
// nodes connected by per-direction Links, advanced by logical ticks instead
// of wall-clock time. Grounded on the original's praef_virtual_network.
type VirtualNetwork struct {
	rng      *rand.Rand
	now      uint64
	nextPort uint16
	buses    map[NetID]*VirtualBus
	inFlight []inFlightPacket
}

// NewVirtualNetwork returns an empty network. rng drives every simulated
// loss, duplication, and variable-latency roll; pass a seeded *rand.Rand
// for reproducible tests.
func NewVirtualNetwork(rng *rand.Rand) *VirtualNetwork {
	return &VirtualNetwork{rng: rng, nextPort: 1, buses: make(map[NetID]*VirtualBus)}
}

// CreateNode adds a new bus to the network, with a freshly assigned
// loopback address, and returns it.
func (net *VirtualNetwork) CreateNode() *VirtualBus {
	addr := NetID{Intranet: netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), net.nextPort)}
	net.nextPort++

	vb := &VirtualBus{
		net:              net,
		addr:             addr,
		links:            make(map[NetID]*Link),
		routes:           make(map[NetID]bool),
		lastRouteDeleted: make(map[NetID]uint64),
		lastSentTo:       make(map[NetID]uint64),
		lastRecvFrom:     make(map[NetID]uint64),
	}
	net.buses[addr] = vb
	return vb
}

// Advance moves simulated time forward by amount, delivering into each
// destination's inbox every in-flight packet whose delay has elapsed.
func (net *VirtualNetwork) Advance(amount uint64) {
	net.now += amount

	remaining := net.inFlight[:0]
	for _, p := range net.inFlight {
		if p.deliverAt <= net.now {
			p.to.inbox = append(p.to.inbox, inboxEntry{from: p.from.addr, data: p.data})
			p.to.lastRecvFrom[p.from.addr] = net.now
		} else {
			remaining = append(remaining, p)
		}
	}
	net.inFlight = remaining
}

// roll reports true with probability threshold/65536, matching how
// Reliability and Duplicity are both interpreted.
func (net *VirtualNetwork) roll(threshold uint16) bool {
	if threshold == 0 {
		return false
	}
	return net.rng.Int31n(65536) < int32(threshold)
}

// VirtualBus is one node on a VirtualNetwork; it implements Bus.
type VirtualBus struct {
	net  *VirtualNetwork
	addr NetID

	links map[NetID]*Link // outgoing link parameters, this bus -> peer

	routes           map[NetID]bool   // peers this bus currently holds a route open to
	lastRouteDeleted map[NetID]uint64 // last time a route to peer was deleted
	lastSentTo       map[NetID]uint64 // last time this bus attempted to send peer a unicast
	lastRecvFrom     map[NetID]uint64 // last time a datagram arrived from peer

	inbox []inboxEntry
}

// Addr returns this bus's network identity.
func (vb *VirtualBus) Addr() NetID { return vb.addr }

// Link returns the mutable parameters governing traffic vb sends to peer,
// creating them at their defaults on first use.
func (vb *VirtualBus) Link(peer *VirtualBus) *Link {
	l, ok := vb.links[peer.addr]
	if !ok {
		l = defaultLink()
		vb.links[peer.addr] = l
	}
	return l
}

func (vb *VirtualBus) CreateRoute(peer NetID) bool {
	vb.routes[peer] = true
	return true
}

func (vb *VirtualBus) DeleteRoute(peer NetID) bool {
	existed := vb.routes[peer]
	delete(vb.routes, peer)
	vb.lastRouteDeleted[peer] = vb.net.now
	return existed
}

func (vb *VirtualBus) Unicast(peer NetID, data []byte) {
	vb.lastSentTo[peer] = vb.net.now
	dest, ok := vb.net.buses[peer]
	if !ok {
		return
	}
	link := vb.Link(dest)
	if !dest.admits(vb.addr, link) {
		return
	}
	vb.attempt(link, dest, data)
}

func (vb *VirtualBus) TriangularUnicast(peer NetID, data []byte) {
	vb.lastSentTo[peer] = vb.net.now
	dest, ok := vb.net.buses[peer]
	if !ok {
		return
	}
	vb.attempt(vb.Link(dest), dest, data) // bypasses admits: triangular routing ignores NAT state
}

func (vb *VirtualBus) Broadcast(data []byte) {
	for peerAddr, link := range vb.links {
		dest := vb.net.buses[peerAddr]
		if dest == nil || !dest.admits(vb.addr, link) {
			continue
		}
		vb.attempt(link, dest, data)
	}
}

func (vb *VirtualBus) Recv() (NetID, []byte, bool) {
	if len(vb.inbox) == 0 {
		return NetID{}, nil, false
	}
	e := vb.inbox[0]
	vb.inbox = vb.inbox[1:]
	return e.from, e.data, true
}

func (vb *VirtualBus) LastRecv(peer NetID) (object.Instant, bool) {
	t, ok := vb.lastRecvFrom[peer]
	if !ok {
		return 0, false
	}
	return object.Instant(t), true
}

// admits reports whether vb currently accepts a plain unicast from sender:
// either vb holds an open route to sender, or sender falls within the
// grace window following the last time vb deleted a route to it or sent it
// a packet, whichever is later.
func (vb *VirtualBus) admits(sender NetID, link *Link) bool {
	if vb.routes[sender] {
		return true
	}
	graceStart, everOpened := vb.graceWindowStart(sender)
	if !everOpened {
		return false
	}
	return vb.net.now-graceStart <= link.FirewallGracePeriod
}

func (vb *VirtualBus) graceWindowStart(sender NetID) (uint64, bool) {
	deleted, hasDeleted := vb.lastRouteDeleted[sender]
	sent, hasSent := vb.lastSentTo[sender]
	switch {
	case hasDeleted && hasSent:
		if deleted > sent {
			return deleted, true
		}
		return sent, true
	case hasDeleted:
		return deleted, true
	case hasSent:
		return sent, true
	default:
		return 0, false
	}
}

// attempt simulates one independent send over link: it may be lost
// (Reliability), delayed (BaseLatency/VariableLatency), and may spawn a
// further independent duplicate (Duplicity) before returning.
func (vb *VirtualBus) attempt(link *Link, dest *VirtualBus, data []byte) {
	if !vb.net.roll(link.Reliability) {
		return
	}

	cp := append([]byte(nil), data...)
	delay := link.BaseLatency
	if link.VariableLatency > 0 {
		delay += uint64(vb.net.rng.Int63n(int64(link.VariableLatency) + 1))
	}
	vb.net.inFlight = append(vb.net.inFlight, inFlightPacket{
		from:      vb,
		to:        dest,
		data:      cp,
		deliverAt: vb.net.now + delay,
	})

	if vb.net.roll(link.Duplicity) {
		vb.attempt(link, dest, data)
	}
}
