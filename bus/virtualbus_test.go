package bus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func recvUint(t *testing.T, bus *VirtualBus) (uint32, bool) {
	t.Helper()
	_, data, ok := bus.Recv()
	if !ok {
		return 0, false
	}
	require.Len(t, data, 4)
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, true
}

func mustRecvExactly(t *testing.T, bus *VirtualBus, want uint32) {
	t.Helper()
	got, ok := recvUint(t, bus)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func assertEmpty(t *testing.T, bus *VirtualBus) {
	t.Helper()
	_, _, ok := bus.Recv()
	require.False(t, ok)
}

func u32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestCanSendPacketsOverIdealNetwork(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	src.Link(dst)
	dst.Link(src)

	assertEmpty(t, dst)
	src.TriangularUnicast(dst.Addr(), u32(42))
	net.Advance(1)
	mustRecvExactly(t, dst, 42)
	assertEmpty(t, dst)
	assertEmpty(t, src)
}

func TestNATSimulationBlocksIncomingPackets(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	src.Link(dst)
	dst.Link(src)

	net.Advance(1)
	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	assertEmpty(t, dst)
}

func TestNATBlockCanBeOpened(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	src.Link(dst)
	dst.Link(src)

	net.Advance(1)
	require.True(t, dst.CreateRoute(src.Addr()))
	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	mustRecvExactly(t, dst, 42)
	assertEmpty(t, dst)
}

func TestTransmissionTemporarilyOpensNAT(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.FirewallGracePeriod = 5

	net.Advance(10)
	// dst talks to src. Dropped, since src's NAT is still closed, but it
	// temporarily opens dst's NAT for the opposite direction.
	dst.Unicast(src.Addr(), u32(5))
	net.Advance(1)
	assertEmpty(t, src)

	// Passes through the opening.
	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	mustRecvExactly(t, dst, 42)
	assertEmpty(t, dst)

	net.Advance(10)
	// Hole in the NAT is closed again.
	src.Unicast(dst.Addr(), u32(6))
	net.Advance(1)
	assertEmpty(t, dst)
}

func TestCanDeleteRoutes(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.FirewallGracePeriod = 5

	net.Advance(10)
	require.True(t, dst.CreateRoute(src.Addr()))
	net.Advance(10)
	require.True(t, dst.DeleteRoute(src.Addr()))
	net.Advance(1)

	// Hole in the NAT has not yet closed.
	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	mustRecvExactly(t, dst, 42)

	net.Advance(5)
	// Hole in the NAT closes.
	src.Unicast(dst.Addr(), u32(6))
	net.Advance(1)
	assertEmpty(t, dst)
}

func TestWillRandomlyLose(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(7)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.Reliability = 0x7FFF

	require.True(t, dst.CreateRoute(src.Addr()))
	net.Advance(1)

	for i := uint32(0); i < 256; i++ {
		src.Unicast(dst.Addr(), u32(i))
	}
	net.Advance(1)

	received := make(map[uint32]bool)
	sum := 0
	for {
		v, ok := recvUint(t, dst)
		if !ok {
			break
		}
		require.Less(t, v, uint32(256))
		require.False(t, received[v])
		received[v] = true
		sum++
	}

	require.Greater(t, sum, 0)
	require.Less(t, sum, 256)
}

func TestWillRandomlyDuplicate(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(11)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.Duplicity = 0x7FFF

	require.True(t, dst.CreateRoute(src.Addr()))
	net.Advance(1)

	for i := uint32(0); i < 256; i++ {
		src.Unicast(dst.Addr(), u32(i))
	}
	net.Advance(1)

	received := make(map[uint32]int)
	sum := 0
	maxDuplications := 0
	for {
		v, ok := recvUint(t, dst)
		if !ok {
			break
		}
		sum++
		received[v]++
		if received[v] > maxDuplications {
			maxDuplications = received[v]
		}
	}

	for i := uint32(0); i < 256; i++ {
		require.NotZero(t, received[i])
	}
	require.Greater(t, sum, 256)
	require.Greater(t, maxDuplications, 2)
}

func TestSimulatesConstantLatency(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.BaseLatency = 5

	require.True(t, dst.CreateRoute(src.Addr()))
	net.Advance(1)

	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	assertEmpty(t, dst) // still in flight
	net.Advance(4)
	mustRecvExactly(t, dst, 42)
	assertEmpty(t, dst)

	src.Unicast(dst.Addr(), u32(51))
	net.Advance(50) // overshoot the latency entirely
	mustRecvExactly(t, dst, 51)
	assertEmpty(t, dst)
}

func TestSimulatesRandomLatency(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(3)))
	src := net.CreateNode()
	dst := net.CreateNode()
	srcToDst := src.Link(dst)
	dst.Link(src)
	srcToDst.BaseLatency = 5
	srcToDst.VariableLatency = 1000

	require.True(t, dst.CreateRoute(src.Addr()))

	for i := uint32(0); i < 256; i++ {
		src.Unicast(dst.Addr(), u32(i))
	}

	net.Advance(1)
	assertEmpty(t, dst)

	var received []uint32
	net.Advance(4)
	for tick := 0; tick < 1000; tick++ {
		net.Advance(1)
		for {
			v, ok := recvUint(t, dst)
			if !ok {
				break
			}
			received = append(received, v)
		}
	}

	assertEmpty(t, dst)
	require.Len(t, received, 256)

	inOrder := true
	for i := 0; i+1 < len(received) && inOrder; i++ {
		inOrder = received[i] < received[i+1]
	}
	require.False(t, inOrder)
}

func TestCanBroadcast(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	a := net.CreateNode()
	b := net.CreateNode()
	c := net.CreateNode()
	d := net.CreateNode()

	src.Link(a)
	a.Link(src)
	src.Link(b)
	b.Link(src)
	src.Link(c)
	c.Link(src)
	// No link to d.

	require.True(t, a.CreateRoute(src.Addr()))
	require.True(t, b.CreateRoute(src.Addr()))
	require.True(t, c.CreateRoute(src.Addr()))

	src.Broadcast(u32(42))
	net.Advance(1)

	mustRecvExactly(t, a, 42)
	mustRecvExactly(t, b, 42)
	mustRecvExactly(t, c, 42)
	assertEmpty(t, a)
	assertEmpty(t, b)
	assertEmpty(t, c)
	assertEmpty(t, d)
	assertEmpty(t, src)
}

func TestInFlightAndInboxAreNotLeaked(t *testing.T) {
	net := NewVirtualNetwork(rand.New(rand.NewSource(1)))
	src := net.CreateNode()
	dst := net.CreateNode()
	src.Link(dst)
	dst.Link(src)

	require.True(t, dst.CreateRoute(src.Addr()))
	src.Unicast(dst.Addr(), u32(42))
	net.Advance(1)
	src.Unicast(dst.Addr(), u32(53))
}
