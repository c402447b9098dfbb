package topology_test

import (
	"testing"

	"github.com/llcevict/core/topology"
)

func TestFlatIsSingleSocketNonSMT(t *testing.T) {
	v := topology.NewFlat(8)

	if len(v.Sockets()) != 1 {
		t.Fatalf("Flat topology has %d sockets, want 1", len(v.Sockets()))
	}

	if !v.SameSocketNonSMT(0, 1) {
		t.Fatalf("Flat(8): cpus 0,1 should be same-socket-non-SMT")
	}

	if v.Relate(0, 0) != topology.SMT {
		t.Fatalf("Relate(cpu, cpu) = %v, want SMT", v.Relate(0, 0))
	}

	if v.Relate(0, 1) != topology.CORE {
		t.Fatalf("Relate(0,1) = %v, want CORE (same socket, distinct core)", v.Relate(0, 1))
	}
}

func TestCPUsOnSocket(t *testing.T) {
	v := topology.NewFlat(4)

	cpus := v.CPUsOnSocket(0)
	if len(cpus) != 4 {
		t.Fatalf("CPUsOnSocket(0) = %v, want 4 entries", cpus)
	}
}
