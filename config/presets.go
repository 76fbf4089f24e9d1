package config

// StrictParameters returns DefaultParameters with Profile set to Strict,
// for deployments that must reject unauthenticated join requests.
func StrictParameters() Parameters {
	p := DefaultParameters()
	p.Profile = Strict
	return p
}

// LocalParameters returns parameters tuned for same-process or
// same-machine testing: latency and every pacing interval derived from it
// shrink accordingly, so simulations don't have to burn thousands of ticks
// to see a join complete.
func LocalParameters() Parameters {
	const stdLatency = 2
	p := DefaultParameters()
	p.StdLatency = stdLatency
	p.CommitInterval = stdLatency * 8
	p.MaxCommitLag = stdLatency * 16
	p.MaxValidatedLag = stdLatency * 32
	p.CommitLagLaxness = stdLatency * 4
	p.SelfCommitLagCompensation = stdLatency
	p.DirectAckInterval = stdLatency * 4
	p.IndirectAckInterval = stdLatency * 16
	p.HTRangeQueryInterval = stdLatency * 2
	p.HTSnapshotInterval = stdLatency * 8
	p.HTRootQueryInterval = stdLatency * 8
	p.HTRootQueryOffset = stdLatency
	return p
}
