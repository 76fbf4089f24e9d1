package system

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/config"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/wire"
)

func mustSignator(t *testing.T) *dsa.Signator {
	t.Helper()
	sig, err := dsa.NewSignator()
	require.NoError(t, err)
	return sig
}

func TestJoinerReachesOK(t *testing.T) {
	net := bus.NewVirtualNetwork(rand.New(rand.NewSource(1)))
	params := config.LocalParameters()

	bootBus := net.CreateNode()
	boot := NewBootstrap(bootBus, bootBus.Addr(), params, mustSignator(t), nil, nil)

	joinBus := net.CreateNode()
	joiner := NewJoiner(joinBus, joinBus.Addr(), bootBus.Addr(), params, mustSignator(t), nil, nil)

	require.Equal(t, OK, boot.Status())
	require.Equal(t, Anonymous, joiner.Status())

	for i := 0; i < 400; i++ {
		boot.Advance(1)
		joiner.Advance(1)
		net.Advance(1)
	}

	require.Equal(t, OK, joiner.Status())
	require.NotZero(t, joiner.ID())
	require.True(t, boot.Metatransactor().Alive(joiner.ID()))
	require.Equal(t, 1, boot.NumPeers())
}

func TestAppDataBroadcastReachesPeer(t *testing.T) {
	net := bus.NewVirtualNetwork(rand.New(rand.NewSource(2)))
	params := config.LocalParameters()

	bootBus := net.CreateNode()
	boot := NewBootstrap(bootBus, bootBus.Addr(), params, mustSignator(t), nil, nil)

	joinBus := net.CreateNode()
	joiner := NewJoiner(joinBus, joinBus.Addr(), bootBus.Addr(), params, mustSignator(t), nil, nil)

	for i := 0; i < 400; i++ {
		boot.Advance(1)
		joiner.Advance(1)
		net.Advance(1)
	}
	require.Equal(t, OK, joiner.Status())

	boot.Send([]byte("hello from bootstrap"))

	var got []byte
	for i := 0; i < 50; i++ {
		boot.Advance(1)
		joiner.Advance(1)
		net.Advance(1)
		if data, ok := joiner.Recv(); ok {
			got = data
			break
		}
	}
	require.Equal(t, "hello from bootstrap", string(got))
}

func TestThirdNodeJoinsAfterCatchUp(t *testing.T) {
	net := bus.NewVirtualNetwork(rand.New(rand.NewSource(3)))
	params := config.LocalParameters()

	bootBus := net.CreateNode()
	boot := NewBootstrap(bootBus, bootBus.Addr(), params, mustSignator(t), nil, nil)

	aBus := net.CreateNode()
	a := NewJoiner(aBus, aBus.Addr(), bootBus.Addr(), params, mustSignator(t), nil, nil)

	for i := 0; i < 400; i++ {
		boot.Advance(1)
		a.Advance(1)
		net.Advance(1)
	}
	require.Equal(t, OK, a.Status())

	bBus := net.CreateNode()
	b := NewJoiner(bBus, bBus.Addr(), aBus.Addr(), params, mustSignator(t), nil, nil)

	for i := 0; i < 400; i++ {
		boot.Advance(1)
		a.Advance(1)
		b.Advance(1)
		net.Advance(1)
	}

	require.Equal(t, OK, b.Status())
	require.True(t, boot.Metatransactor().Alive(b.ID()))
	require.True(t, a.Metatransactor().Alive(b.ID()))
}

// TestReapplyingSameJoinAcceptIsIdempotent exercises applyJoinAccept's
// collision-detection path on its non-colliding side: forcing a second
// pubkey to derive the same id as an existing member (the actual chimera
// case) is impractical to construct in a unit test, so this instead
// confirms that re-applying an accept for an already-known pubkey never
// kicks and never double-counts the vote tally.
func TestReapplyingSameJoinAcceptIsIdempotent(t *testing.T) {
	net := bus.NewVirtualNetwork(rand.New(rand.NewSource(4)))
	params := config.LocalParameters()

	bootBus := net.CreateNode()
	boot := NewBootstrap(bootBus, bootBus.Addr(), params, mustSignator(t), nil, nil)

	joinBus := net.CreateNode()
	joiner := NewJoiner(joinBus, joinBus.Addr(), bootBus.Addr(), params, mustSignator(t), nil, nil)

	for i := 0; i < 400; i++ {
		boot.Advance(1)
		joiner.Advance(1)
		net.Advance(1)
	}
	require.Equal(t, OK, joiner.Status())

	before := boot.GrantVotes(joiner.ID())
	ja := wire.JoinAccept{
		PublicKey:  boot.idPubkey[joiner.ID()],
		Identifier: encodeNetID(joiner.Addr()),
		Instant:    int64(boot.Now()),
	}
	boot.applyJoinAccept(ja)

	require.Equal(t, before, boot.GrantVotes(joiner.ID()))
	require.True(t, boot.Metatransactor().Alive(joiner.ID()))
}
