// Package bus defines the message bus contract a System depends on for all
// datagram I/O (spec §6): route lifecycle, unicast/triangular-unicast/
// broadcast sends, and non-blocking receive. It also supplies VirtualBus, an
// in-process simulated network used by tests and embedders that don't need
// a real transport.
package bus

import "net/netip"

// NetID identifies a peer's network address: an intranet address (how this
// bus normally reaches the peer) plus an optional globally-routable address
// for peers behind NAT, used as a fallback for triangular routing. The core
// treats NetID as opaque except for equality, which is why every field here
// is a plain comparable value.
type NetID struct {
	Intranet    netip.AddrPort
	Internet    netip.AddrPort
	HasInternet bool
}

// Equal reports whether two NetIDs refer to the same peer.
func (n NetID) Equal(o NetID) bool { return n == o }

// String renders a NetID for logging.
func (n NetID) String() string {
	if !n.HasInternet {
		return n.Intranet.String()
	}
	return n.Intranet.String() + "/" + n.Internet.String()
}
