// Command nbodies runs a small gravitational simulation across a
// bus.VirtualNetwork of praefectus nodes: every node owns one body,
// joins the system founded by node 0, and keeps its body's position in
// sync with every other node's by broadcasting over the same membership
// and transport layer the rest of this repository implements.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/luxfi/praefectus/bus"
	"github.com/luxfi/praefectus/config"
	"github.com/luxfi/praefectus/dsa"
	"github.com/luxfi/praefectus/examples/nbodies"
	"github.com/luxfi/praefectus/system"
)

func main() {
	numBodies := flag.Int("bodies", 4, "number of orbiting bodies/nodes")
	ticks := flag.Int("ticks", 2000, "simulation ticks to run after join completes")
	seed := flag.Int64("seed", 1, "virtual network PRNG seed")
	flag.Parse()

	if *numBodies < 1 {
		fmt.Fprintln(os.Stderr, "nbodies: -bodies must be >= 1")
		os.Exit(1)
	}

	net := bus.NewVirtualNetwork(rand.New(rand.NewSource(*seed)))
	params := config.LocalParameters()

	bootAddr, systems := bootstrapNodes(net, params, *numBodies)

	fmt.Printf("joining %d nodes to bootstrap %s...\n", *numBodies-1, bootAddr)
	for i := 0; i < 4000 && !allJoined(systems); i++ {
		for _, s := range systems {
			s.Advance(1)
		}
		net.Advance(1)
	}
	for i, s := range systems {
		if s.Status() != system.OK {
			fmt.Fprintf(os.Stderr, "node %d failed to join: status=%s\n", i, s.Status())
			os.Exit(1)
		}
	}
	fmt.Println("all nodes joined")

	sims := make([]*nbodies.Simulation, len(systems))
	for i, s := range systems {
		sims[i] = buildSimulation(s, systems, i)
	}

	for t := 0; t < *ticks; t++ {
		for i, s := range systems {
			sims[i].Tick()
			s.Advance(1)
		}
		net.Advance(1)
	}

	fmt.Println("final positions:")
	for i, sim := range sims {
		for id, pos := range sim.Bodies() {
			fmt.Printf("  node %d sees body %s at (%.3f, %.3f)\n", i, id, pos.X, pos.Y)
		}
	}
}

func bootstrapNodes(net *bus.VirtualNetwork, params config.Parameters, n int) (bus.NetID, []*system.System) {
	bootBus := net.CreateNode()
	sig, err := dsa.NewSignator()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nbodies:", err)
		os.Exit(1)
	}
	boot := system.NewBootstrap(bootBus, bootBus.Addr(), params, sig, nil, nil)

	systems := make([]*system.System, n)
	systems[0] = boot

	for i := 1; i < n; i++ {
		b := net.CreateNode()
		s, err := dsa.NewSignator()
		if err != nil {
			fmt.Fprintln(os.Stderr, "nbodies:", err)
			os.Exit(1)
		}
		systems[i] = system.NewJoiner(b, b.Addr(), bootBus.Addr(), params, s, nil, nil)
	}
	return bootBus.Addr(), systems
}

func allJoined(systems []*system.System) bool {
	for _, s := range systems {
		if s.Status() != system.OK {
			return false
		}
	}
	return true
}

// buildSimulation lays every node's body out evenly on a ring, each with a
// tangential velocity so the set of bodies orbits loosely rather than
// immediately collapsing inward.
func buildSimulation(s *system.System, all []*system.System, index int) *nbodies.Simulation {
	const radius = 10.0
	n := len(all)

	bodies := make([]*nbodies.Body, n)
	for i, peer := range all {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pos := nbodies.Vec2{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)}
		speed := 0.15
		vel := nbodies.Vec2{X: -speed * math.Sin(angle), Y: speed * math.Cos(angle)}
		bodies[i] = nbodies.NewBody(peer.ID(), 1.0, pos, vel, i == index)
	}
	return nbodies.New(s, bodies, s.ID(), 1.0)
}
