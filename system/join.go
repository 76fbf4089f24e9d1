package system

import (
	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/config"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/metatransactor"
	"github.com/luxfi/praefectus/node"
	"github.com/luxfi/praefectus/object"
	"github.com/luxfi/praefectus/utils/bag"
	"github.com/luxfi/praefectus/wire"
)

// handleGetNetworkInfo answers a joiner's first contact (spec §4.7 join
// step 1/2): replies with the system's salt and current instant, then
// pushes one JoinTreeEntry per known member so the joiner can catch up on
// membership history without a separate pull round.
func (s *System) handleGetNetworkInfo(m wire.GetNetworkInfo) {
	joinerAddr, ok := decodeNetID(m.RetAddr)
	if !ok {
		return
	}
	s.bus.CreateRoute(joinerAddr)

	info := wire.NetworkInfo{
		SystemSalt:     s.salt,
		BootstrapID:    int64(metatransactor.BootstrapNode),
		CurrentInstant: int64(s.now),
	}
	s.sendRPCTriangular(joinerAddr, info)

	for id, peer := range s.peers {
		grantedAt, _ := s.meta.GetGrant(id)
		s.sendJoinTreeEntry(joinerAddr, id, peer.PublicKey, peer.Addr, grantedAt)
	}
	if s.selfID != 0 {
		grantedAt, _ := s.meta.GetGrant(s.selfID)
		s.sendJoinTreeEntry(joinerAddr, s.selfID, s.signator.Pubkey(), s.addr, grantedAt)
	}
}

func (s *System) sendJoinTreeEntry(to bus.NetID, id object.ID, pubkey []byte, addr bus.NetID, at object.Instant) {
	ja := wire.JoinAccept{PublicKey: pubkey, Identifier: encodeNetID(addr), Instant: int64(at)}
	data, err := wire.EncodeMessage(ja)
	if err != nil {
		return
	}
	s.sendRPCTriangular(to, wire.JoinTreeEntry{Node: int64(id), Data: data})
}

// handleNetworkInfo derives this node's own object id (spec §4.7 join step
// 3) from the salt the introducer reports, and sends a JoinRequest.
func (s *System) handleNetworkInfo(m wire.NetworkInfo) {
	if s.status != Anonymous {
		return
	}

	id, ok := deriveObjectID(m.SystemSalt, s.signator.Pubkey())
	if !ok {
		s.status = Fatal
		s.log.Error("derived object id is forbidden, cannot join", "pubkey_hint", s.signator.PubkeyHint())
		return
	}

	s.salt = append([]byte(nil), m.SystemSalt...)
	s.selfID = id
	s.known.Add(id)
	s.status = PendingGrant

	req := wire.JoinRequest{
		PublicKey:  s.signator.Pubkey(),
		Identifier: encodeNetID(s.addr),
	}
	if s.params.Profile == config.Strict {
		req.Auth = []byte("local")
	}
	s.sendRPCTriangular(s.introducerAddr, req)
}

// handleJoinRequest admits a join request (spec §4.7 join step 4/5): any
// currently-alive member may do this, not just the original introducer.
func (s *System) handleJoinRequest(m wire.JoinRequest) {
	if s.status != OK {
		return
	}
	if s.params.Profile == config.Strict && len(m.Auth) == 0 {
		s.metrics.JoinsRejected.Inc()
		return
	}
	if _, ok := deriveObjectID(s.salt, m.PublicKey); !ok {
		s.metrics.JoinsRejected.Inc()
		return
	}
	if _, ok := decodeNetID(m.Identifier); !ok {
		s.metrics.JoinsRejected.Inc()
		return
	}

	ja := wire.JoinAccept{
		Signature:  s.signator.Sign(m.PublicKey),
		PublicKey:  m.PublicKey,
		Identifier: m.Identifier,
		Auth:       m.Auth,
		Instant:    int64(s.now),
	}
	s.broadcastRPC(ja)
	s.applyJoinAccept(ja)
}

// handleJoinTreeEntry decodes one past JoinAccept relayed by an introducer
// during join catch-up and applies it the same way a live broadcast would
// be (spec's supplemented join-tree walk; see DESIGN.md for why this
// implementation pushes instead of the original's pull-based walk).
func (s *System) handleJoinTreeEntry(m wire.JoinTreeEntry) {
	msg, err := wire.DecodeMessage(m.Data)
	if err != nil {
		return
	}
	ja, ok := msg.(wire.JoinAccept)
	if !ok {
		return
	}
	s.applyJoinAccept(ja)
}

// applyJoinAccept registers (or re-confirms) the accepted node's identity,
// detects a chimera collision against an already-registered id, and casts
// this node's own Grant vote. It is called both for a locally-produced
// JoinAccept (since VirtualBus.Broadcast never loops back to the sender,
// every node that sends one must self-apply it) and for one received over
// the wire or via a JoinTreeEntry.
func (s *System) applyJoinAccept(ja wire.JoinAccept) {
	id, ok := deriveObjectID(s.salt, ja.PublicKey)
	if !ok {
		return
	}
	addr, ok := decodeNetID(ja.Identifier)
	if !ok {
		return
	}

	if existing, known := s.idPubkey[id]; known && !dsa.ConstantTimeEqual(existing, ja.PublicKey) {
		// Two distinct pubkeys derived the same object id. The node that
		// was already registered under id is the one treated as the
		// chimera and kicked; the newcomer's accept is what revealed the
		// collision, and every observer reaches this same conclusion from
		// the same evidence (spec's chimera handling).
		s.kick(id)
		s.metrics.ChimerasDetected.Inc()
	}
	s.idPubkey[id] = append([]byte(nil), ja.PublicKey...)

	s.meta.AddNode(id)
	s.known.Add(id)

	if id != s.selfID {
		peer, exists := s.peers[id]
		if !exists {
			peer = node.New(ja.PublicKey, addr)
			peer.ID = id
			peer.Disposition = node.Positive
			s.peers[id] = peer
			s.bus.CreateRoute(addr)
			s.metrics.JoinsAccepted.Inc()
		} else {
			peer.Addr = addr
		}
		s.byAddr[addr] = id
		s.verifier.Assoc(ja.PublicKey, id)
	}

	s.castChmodVote(id, metatransactor.Grant, object.Instant(ja.Instant))
}

// kick demotes a node to Negative disposition and casts this node's own
// Deny vote against it.
func (s *System) kick(id object.ID) {
	if peer, ok := s.peers[id]; ok {
		peer.Disposition = node.Negative
	}
	s.metrics.Kicks.Inc()
	s.castChmodVote(id, metatransactor.Deny, s.now)
}

// castChmodVote broadcasts this node's vote and applies it locally (the
// broadcast never loops back to the sender).
func (s *System) castChmodVote(target object.ID, mask metatransactor.Mask, effective object.Instant) {
	vote := wire.ChmodVote{Target: int64(target), Mask: int64(mask), Effective: int64(effective)}
	s.broadcastRPC(vote)
	s.applyChmodVote(s.selfID, vote)
}

// applyChmodVote folds a vote (this node's own, or one received from a
// peer) into the Metatransactor, and, for grants, the raw per-candidate
// vote tally used for introspection.
func (s *System) applyChmodVote(voter object.ID, v wire.ChmodVote) {
	target := object.ID(v.Target)
	mask := metatransactor.Mask(v.Mask)

	if mask == metatransactor.Grant {
		b, ok := s.joinVotes[target]
		if !ok {
			nb := bag.New[object.ID]()
			b = &nb
			s.joinVotes[target] = b
		}
		b.Add(voter)
	}

	s.meta.Chmod(target, voter, mask, object.Instant(v.Effective))
}

// GrantVotes returns how many distinct voters have been observed casting a
// Grant vote for target, for logging/introspection. This is independent of
// (and always a superset of, since it never forgets) the Metatransactor's
// own authoritative majority computation.
func (s *System) GrantVotes(target object.ID) int {
	b, ok := s.joinVotes[target]
	if !ok {
		return 0
	}
	return len(b.List())
}
