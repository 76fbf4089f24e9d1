package bus

import "github.com/luxfi/praefectus/object"

// Bus is the transport contract a System drives all network I/O through.
// Grounded on the original's message-bus.h, whose praef_message_bus_if lists
// exactly these seven operations.
//
// A Bus never blocks: Unicast, TriangularUnicast, and Broadcast are
// best-effort sends that queue or drop silently, and Recv is non-blocking,
// returning the next already-arrived datagram if one is waiting.
type Bus interface {
	// CreateRoute opens a route to peer, permitting unicast traffic between
	// this bus and peer once the other side has done the same (or within
	// whatever grace period an implementation grants for one-sided sends).
	// Returns false if the route could not be created (e.g. resource
	// exhaustion).
	CreateRoute(peer NetID) bool

	// DeleteRoute closes a previously created route. It is not an error to
	// delete a route that was never created.
	DeleteRoute(peer NetID) bool

	// Unicast sends data to peer over whatever route currently exists
	// between this bus and peer. Silently dropped if no route is open.
	Unicast(peer NetID, data []byte)

	// TriangularUnicast sends data to peer the same way Unicast does, except
	// that it is not subject to peer's NAT/firewall filtering of direct
	// traffic from this bus — used to establish initial contact with a peer
	// that has no reason yet to expect to hear from this bus.
	TriangularUnicast(peer NetID, data []byte)

	// Broadcast sends data to every peer this bus has an open route toward.
	Broadcast(data []byte)

	// Recv returns the next datagram that has arrived, and the peer it
	// arrived from, or ok=false if none is waiting.
	Recv() (from NetID, data []byte, ok bool)

	// LastRecv reports the instant a datagram was last received from peer,
	// and whether anything has ever been received from it at all.
	LastRecv(peer NetID) (object.Instant, bool)
}
