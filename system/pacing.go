package system

import (
	"github.com/luxfi/praefectus/acktable"
	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/htm"
	"github.com/luxfi/praefectus/node"
	"github.com/luxfi/praefectus/object"
	"github.com/luxfi/praefectus/wire"
)

// verifyDatagram checks a raw datagram's envelope signature against this
// node's verifier. If the sender's key is not yet associated (e.g. the
// unauthenticated join-protocol messages), it falls back to a structural
// Validate: join-protocol convergence, not per-datagram signature checks,
// is what provides this layer's Sybil resistance (see DESIGN.md).
func (s *System) verifyDatagram(data []byte) (*wire.Envelope, object.ID, bool) {
	if env, origin, err := wire.Verify(data, s.verifier); err == nil {
		return env, origin, true
	}
	env, err := wire.Validate(data)
	if err != nil {
		return nil, 0, false
	}
	return env, 0, false
}

func (s *System) handleDatagram(from bus.NetID, data []byte) {
	env, origin, verified := s.verifyDatagram(data)
	if env == nil {
		s.metrics.MessagesDropped.Inc()
		return
	}
	s.metrics.MessagesReceived.Inc()

	var peer *node.Node
	if verified {
		peer = s.peers[origin]
		if peer != nil {
			peer.Touch(s.now, env.SerialNumber(), recvMarker(env.SerialNumber()))
			if peer.Source == nil {
				peer.Source = s.selfClock.AddSource()
			}
			peer.Source.Sample(s.selfClock, env.Instant(), uint(s.params.StdLatency))
			if env.Type() == wire.Committed {
				peer.Comchain.Reveal(env.Instant(), contentHash(env.Signable()))
			}
		}
	}

	for _, seg := range env.Segments() {
		msg, err := wire.DecodeMessage(seg)
		if err != nil {
			continue
		}
		s.dispatch(origin, peer, from, msg, verified)
	}
}

func (s *System) dispatch(origin object.ID, peer *node.Node, from bus.NetID, msg wire.Message, verified bool) {
	switch m := msg.(type) {
	case wire.AppData:
		if verified && peer != nil {
			s.inbox = append(s.inbox, m.Data)
		}
	case wire.DirectAck:
		if verified && peer != nil {
			peer.AckRemote.ApplyBitmap(acktable.SerialNumber(m.Base), m.Bitmap)
			s.retransmitMissing(peer)
		}
	case wire.IndirectAck:
		if verified {
			if target, ok := s.peers[object.ID(m.Node)]; ok {
				target.AckRemote.ApplyBitmap(acktable.SerialNumber(m.Base), m.Bitmap)
				s.retransmitMissing(target)
			}
		}
	case wire.Received:
		if verified && peer != nil {
			peer.AckRemote.Put(acktable.SerialNumber(m.Serial), true)
		}
	case wire.Commit:
		if verified && peer != nil && m.Valid() {
			peer.Comchain.Commit(object.Instant(m.Start), object.Instant(m.End), toComchainHash(m.Hash))
			if peer.Comchain.IsDead() {
				s.metrics.ComchainDead.Inc()
			}
		}
	case wire.Reveal:
		if verified && peer != nil && m.Valid() {
			peer.Comchain.Reveal(object.Instant(m.Instant), toComchainHash(m.Hash))
		}
	case wire.HTDirectoryQuery:
		s.handleHTDirectoryQuery(from, m)
	case wire.HTDirectoryResponse:
		if peer != nil {
			s.handleHTDirectoryResponse(peer, m)
		}
	case wire.HTReadQuery:
		s.handleHTReadQuery(from, m)
	case wire.HTReadResponse:
		s.handleHTReadResponse(m)
	case wire.HTRangeQuery:
		s.handleHTRangeQuery(from, m)
	case wire.HTRangeResponse:
		if peer != nil {
			s.handleHTRangeResponse(peer, m)
		}
	case wire.GetNetworkInfo:
		s.handleGetNetworkInfo(m)
	case wire.NetworkInfo:
		s.handleNetworkInfo(m)
	case wire.JoinRequest:
		s.handleJoinRequest(m)
	case wire.JoinAccept:
		s.applyJoinAccept(m)
	case wire.JoinTreeEntry:
		s.handleJoinTreeEntry(m)
	case wire.ChmodVote:
		if verified {
			s.applyChmodVote(origin, m)
		}
	}
}

// paceAck periodically reports, to each peer, which of its own messages
// this node has received (spec §4.5).
func (s *System) paceAck(peer *node.Node) {
	if s.now-s.lastDirectAck[peer.ID] < object.Instant(s.params.DirectAckInterval) {
		return
	}
	s.lastDirectAck[peer.ID] = s.now
	n := int(s.params.IndirectAckInterval)
	ack := wire.DirectAck{Base: int64(peer.AckLocal.Base()), Bitmap: peer.AckLocal.Bitmap(n)}
	s.sendRPC(peer.Addr, ack)
}

// paceIndirectAck relays, to peer, what every other known peer has been
// seen to send, so peer can retransmit to a third party it has lost direct
// contact with (spec §4.5 triangulated acks). O(n^2) in peer count, as the
// original design is.
func (s *System) paceIndirectAck(peer *node.Node) {
	if s.now-s.lastIndirectAck[peer.ID] < object.Instant(s.params.IndirectAckInterval) {
		return
	}
	s.lastIndirectAck[peer.ID] = s.now

	n := int(s.params.IndirectAckInterval)
	for otherID, other := range s.peers {
		if otherID == peer.ID {
			continue
		}
		ack := wire.IndirectAck{
			Node:   int64(otherID),
			Base:   int64(other.AckLocal.Base()),
			Bitmap: other.AckLocal.Bitmap(n),
		}
		s.sendRPC(peer.Addr, ack)
	}
}

func (s *System) retransmitMissing(peer *node.Node) {
	missing := acktable.FindMissing(&s.sentLog, &peer.AckRemote)
	for _, msg := range missing {
		se, ok := msg.(sentEnvelope)
		if !ok {
			continue
		}
		s.bus.Unicast(peer.Addr, se.data)
		s.metrics.AckRetransmits.Inc()
	}
}

// paceCommit periodically folds this node's own outgoing history into a
// comchain commitment and broadcasts it (spec §4.4).
func (s *System) paceCommit() {
	start := s.commitCursor
	end := start + object.Instant(s.params.CommitInterval)
	if s.now < end {
		return
	}
	hash, ok := s.selfComchain.CreateCommit(start, end)
	if !ok {
		return
	}
	s.commitCursor = end
	s.broadcastRPC(wire.Commit{Start: int64(start), End: int64(end), Hash: hash[:]})
}

// paceHTM periodically asks peer for its hash tree's current directory,
// staggered by peer id so every peer isn't queried on the same instant
// (spec §6 hash-tree synchronization).
func (s *System) paceHTM(peer *node.Node) {
	interval := s.params.HTRootQueryInterval
	if interval == 0 {
		return
	}
	offset := object.Instant(uint32(peer.ID) % interval)
	if !s.htmPolicy.ShouldQueryRoot(s.now, s.lastHTMRoot[peer.ID], offset) {
		return
	}
	s.lastHTMRoot[peer.ID] = s.now
	s.sendRPC(peer.Addr, wire.HTDirectoryQuery{Instant: int64(s.now)})
}

func (s *System) handleHTDirectoryQuery(from bus.NetID, m wire.HTDirectoryQuery) {
	s.sendRPC(from, wire.HTDirectoryResponse{
		Instant: m.Instant,
		Hash:    directoryDigest(s.liveTree.Directory()),
	})
}

func (s *System) handleHTDirectoryResponse(peer *node.Node, m wire.HTDirectoryResponse) {
	local := directoryDigest(s.liveTree.Directory())
	if bytesEqual(local, m.Hash) {
		return
	}
	s.sendRangeQuery(peer)
}

func (s *System) sendRangeQuery(peer *node.Node) {
	q := wire.HTRangeQuery{
		Mask:   int64(peer.HTM.RangeQueryMask),
		Offset: int64(peer.HTM.RangeQueryOffset),
		From:   peer.HTM.NextRangeQuery[:],
	}
	s.sendRPC(peer.Addr, q)
}

func (s *System) handleHTRangeQuery(from bus.NetID, m wire.HTRangeQuery) {
	refs := s.liveTree.Range(toHTMHash(m.From), byte(m.Offset), byte(m.Mask), s.params.HTRangeMax)
	hashes := make([][]byte, len(refs))
	for i, r := range refs {
		h := r.Hash
		hashes[i] = append([]byte(nil), h[:]...)
	}
	s.sendRPC(from, wire.HTRangeResponse{Hashes: hashes, Finished: len(refs) < s.params.HTRangeMax})
}

func (s *System) handleHTRangeResponse(peer *node.Node, m wire.HTRangeResponse) {
	refs := make([]htm.Ref, len(m.Hashes))
	for i, h := range m.Hashes {
		hh := toHTMHash(h)
		refs[i] = htm.Ref{Hash: hh}
		if _, ok := s.liveTree.GetHash(hh); !ok {
			s.sendRPC(peer.Addr, wire.HTReadQuery{Hash: h})
		}
	}
	peer.HTM.Advance(s.now, refs, s.params.HTRangeMax)
	if m.Finished {
		s.metrics.HTMScans.Inc()
	} else {
		s.sendRangeQuery(peer)
	}
}

func (s *System) handleHTReadQuery(from bus.NetID, m wire.HTReadQuery) {
	ref, ok := s.liveTree.GetHash(toHTMHash(m.Hash))
	var data []byte
	if ok {
		data = ref.Data
	}
	s.sendRPC(from, wire.HTReadResponse{Hash: m.Hash, Data: data})
}

func (s *System) handleHTReadResponse(m wire.HTReadResponse) {
	if len(m.Data) == 0 {
		return
	}
	s.liveTree.Add(s.now, m.Data)
}
