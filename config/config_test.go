package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultParametersValid(t *testing.T) {
	require.NoError(t, DefaultParameters().Validate())
}

func TestStrictParametersValid(t *testing.T) {
	p := StrictParameters()
	require.Equal(t, Strict, p.Profile)
	require.NoError(t, p.Validate())
}

func TestLocalParametersValid(t *testing.T) {
	require.NoError(t, LocalParameters().Validate())
}

func TestParametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Parameters)
		wantErr error
	}{
		{"zero std latency", func(p *Parameters) { p.StdLatency = 0 }, ErrStdLatencyInvalid},
		{"mtu too small", func(p *Parameters) { p.MTU = 127 }, ErrMTUInvalid},
		{"zero commit interval", func(p *Parameters) { p.CommitInterval = 0 }, ErrCommitIntervalInvalid},
		{"commit lag below interval", func(p *Parameters) { p.MaxCommitLag = p.CommitInterval - 1 }, ErrMaxCommitLagInvalid},
		{"validated lag below commit lag", func(p *Parameters) { p.MaxValidatedLag = p.MaxCommitLag - 1 }, ErrMaxValidatedLagInvalid},
		{"laxness above max commit lag", func(p *Parameters) { p.CommitLagLaxness = p.MaxCommitLag + 1 }, ErrCommitLagLaxnessInvalid},
		{"zero direct ack interval", func(p *Parameters) { p.DirectAckInterval = 0 }, ErrAckIntervalInvalid},
		{"indirect below direct", func(p *Parameters) { p.IndirectAckInterval = p.DirectAckInterval - 1 }, ErrIndirectAckIntervalOrder},
		{"zero ht range max", func(p *Parameters) { p.HTRangeMax = 0 }, ErrHTRangeMaxInvalid},
		{"zero ht snapshot interval", func(p *Parameters) { p.HTSnapshotInterval = 0 }, ErrHTIntervalInvalid},
		{"zero ht num snapshots", func(p *Parameters) { p.HTNumSnapshots = 0 }, ErrHTNumSnapshotsInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParameters()
			tc.mutate(&p)
			require.ErrorIs(t, p.Validate(), tc.wantErr)
		})
	}
}
