// Package config collects every tunable a System needs at construction
// time (spec §6): latency/retry pacing, join-authentication strictness,
// address-family preferences, and the pacing knobs for the comchain, ack,
// and hash-tree-memory subsystems.
package config

import "errors"

// Profile controls how strictly a System vets join requests.
type Profile int

const (
	// Lax accepts join requests with no authentication blob.
	Lax Profile = iota
	// Strict rejects any join request lacking a valid auth blob.
	Strict
)

// IPVersion constrains which address families a System will route to.
type IPVersion int

const (
	IPAny IPVersion = iota
	IPv4
	IPv6
)

// Locality constrains whether a System prefers intranet or internet
// addresses when both are available for a peer.
type Locality int

const (
	LocalityAny Locality = iota
	LocalityLocal
	LocalityGlobal
)

// Sentinel errors returned by Validate, one per invalid field.
var (
	ErrStdLatencyInvalid        = errors.New("config: std latency must be > 0")
	ErrMTUInvalid                = errors.New("config: mtu must be >= 128")
	ErrCommitIntervalInvalid     = errors.New("config: commit interval must be > 0")
	ErrMaxCommitLagInvalid       = errors.New("config: max commit lag must be >= commit interval")
	ErrMaxValidatedLagInvalid    = errors.New("config: max validated lag must be >= max commit lag")
	ErrCommitLagLaxnessInvalid   = errors.New("config: commit lag laxness must be <= max commit lag")
	ErrAckIntervalInvalid        = errors.New("config: ack intervals must be > 0")
	ErrIndirectAckIntervalOrder  = errors.New("config: indirect ack interval must be >= direct ack interval")
	ErrHTRangeMaxInvalid         = errors.New("config: ht range max must be > 0")
	ErrHTIntervalInvalid         = errors.New("config: ht interval fields must be > 0")
	ErrHTNumSnapshotsInvalid     = errors.New("config: ht num snapshots must be > 0")
)

// Parameters is every configuration option a System reads at construction
// and during pacing decisions. Fields are grouped the way spec §6 groups
// them; there is no further nesting, matching how the teacher's own
// Parameters struct stays a single flat value type.
type Parameters struct {
	// StdLatency is the nominal network latency, in ticks, that seeds retry
	// and grace-period heuristics throughout the system.
	StdLatency uint32

	// Profile governs join-request authentication strictness.
	Profile Profile
	// IPVersion constrains which address families this node will route to.
	IPVersion IPVersion
	// NetLocality constrains whether intranet or internet addresses are
	// preferred when both exist for a peer.
	NetLocality Locality

	// MTU is the maximum datagram size; must be at least 128 bytes (the
	// minimum needed for a complete HLMSG with one segment).
	MTU uint32

	// CommitInterval is how often, in ticks, this node emits a new Commit.
	CommitInterval uint32
	// MaxCommitLag bounds how far behind real time CommittedThreshold may
	// fall before the chain is considered unhealthy.
	MaxCommitLag uint32
	// MaxValidatedLag is the same bound for ValidatedThreshold.
	MaxValidatedLag uint32
	// CommitLagLaxness extends MaxCommitLag/MaxValidatedLag by a grace
	// margin before any corrective action is taken.
	CommitLagLaxness uint32
	// SelfCommitLagCompensation shifts a node's own commit schedule to
	// offset perceived lag relative to its peers.
	SelfCommitLagCompensation uint32

	// DirectAckInterval is how often, in ticks, this node sends each peer
	// its direct ack bitmap. Defaults to 4x StdLatency.
	DirectAckInterval uint32
	// IndirectAckInterval is how often this node relays indirect ack
	// bitmaps for triangulation. Defaults to 16x StdLatency.
	IndirectAckInterval uint32

	// HTRangeMax bounds how many objects one hash-tree range-query response
	// may carry.
	HTRangeMax int
	// HTRangeQueryInterval is the minimum spacing between range queries to
	// the same peer.
	HTRangeQueryInterval uint32
	// HTSnapshotInterval is how often a node takes a new hash-tree
	// snapshot.
	HTSnapshotInterval uint32
	// HTNumSnapshots bounds how many hash-tree snapshots are retained.
	HTNumSnapshots int
	// HTRootQueryInterval is the minimum spacing between asking a given
	// peer for its tree's directory.
	HTRootQueryInterval uint32
	// HTRootQueryOffset staggers root queries to different peers across
	// HTRootQueryInterval.
	HTRootQueryOffset uint32
}

// DefaultParameters returns the parameter set used when an embedder does
// not override anything: StdLatency of 16 ticks (a middling internet round
// trip expressed in logical ticks), every ack/HTM/comchain pacing knob
// derived from it the way spec §6 specifies as defaults.
func DefaultParameters() Parameters {
	const stdLatency = 16
	return Parameters{
		StdLatency:  stdLatency,
		Profile:     Lax,
		IPVersion:   IPAny,
		NetLocality: LocalityAny,
		MTU:         1280,

		CommitInterval:            stdLatency * 8,
		MaxCommitLag:              stdLatency * 16,
		MaxValidatedLag:           stdLatency * 32,
		CommitLagLaxness:          stdLatency * 4,
		SelfCommitLagCompensation: stdLatency,

		DirectAckInterval:   stdLatency * 4,
		IndirectAckInterval: stdLatency * 16,

		HTRangeMax:           64,
		HTRangeQueryInterval: stdLatency * 2,
		HTSnapshotInterval:   stdLatency * 8,
		HTNumSnapshots:       4,
		HTRootQueryInterval:  stdLatency * 8,
		HTRootQueryOffset:    stdLatency,
	}
}

// Validate reports the first invalid field it finds, or nil if p is
// internally consistent and usable to construct a System.
func (p Parameters) Validate() error {
	if p.StdLatency == 0 {
		return ErrStdLatencyInvalid
	}
	if p.MTU < 128 {
		return ErrMTUInvalid
	}
	if p.CommitInterval == 0 {
		return ErrCommitIntervalInvalid
	}
	if p.MaxCommitLag < p.CommitInterval {
		return ErrMaxCommitLagInvalid
	}
	if p.MaxValidatedLag < p.MaxCommitLag {
		return ErrMaxValidatedLagInvalid
	}
	if p.CommitLagLaxness > p.MaxCommitLag {
		return ErrCommitLagLaxnessInvalid
	}
	if p.DirectAckInterval == 0 || p.IndirectAckInterval == 0 {
		return ErrAckIntervalInvalid
	}
	if p.IndirectAckInterval < p.DirectAckInterval {
		return ErrIndirectAckIntervalOrder
	}
	if p.HTRangeMax <= 0 {
		return ErrHTRangeMaxInvalid
	}
	if p.HTRangeQueryInterval == 0 || p.HTSnapshotInterval == 0 || p.HTRootQueryInterval == 0 {
		return ErrHTIntervalInvalid
	}
	if p.HTNumSnapshots <= 0 {
		return ErrHTNumSnapshotsInvalid
	}
	return nil
}
