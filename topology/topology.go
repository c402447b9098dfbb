// Package topology describes the CPU topology relation matrix the
// orchestrator needs to pick main/helper pairs. Real topology discovery
// is an external collaborator's concern — this package only consumes it
// through the Prober interface, plus a static Flat fallback for when no
// real prober is wired (spec.md §4.G, §6).
package topology

import (
	"fmt"
	"sort"
)

// Relation classifies how two logical CPUs relate to each other.
type Relation int

const (
	SMT Relation = iota
	CORE
	SOCKET
	REMOTE
)

func (r Relation) String() string {
	switch r {
	case SMT:
		return "SMT"
	case CORE:
		return "CORE"
	case SOCKET:
		return "SOCKET"
	case REMOTE:
		return "REMOTE"
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// View is a snapshot of the machine's logical-CPU topology: which socket
// and core each logical CPU belongs to.
type View struct {
	NumCPUs int
	Socket  []int // Socket[cpu] = socket id
	Core    []int // Core[cpu] = physical core id, unique across sockets
}

// Relate classifies the relationship between two logical CPUs.
func (v View) Relate(a, b int) Relation {
	if a == b {
		return SMT
	}

	if v.Core[a] == v.Core[b] {
		return SMT
	}

	if v.Socket[a] == v.Socket[b] {
		return CORE
	}

	return REMOTE
}

// SameSocketNonSMT reports whether a and b sit on the same socket, on
// distinct physical cores — the main/helper pair constraint of spec.md
// §4.G ("preferably on the same socket and not SMT siblings").
func (v View) SameSocketNonSMT(a, b int) bool {
	return v.Socket[a] == v.Socket[b] && v.Core[a] != v.Core[b]
}

// Sockets returns the distinct socket ids present in the view, in
// ascending order.
func (v View) Sockets() []int {
	seen := make(map[int]bool)

	var out []int

	for _, s := range v.Socket {
		if !seen[s] {
			seen[s] = true

			out = append(out, s)
		}
	}

	sort.Ints(out)

	return out
}

// CPUsOnSocket returns every logical CPU assigned to socket.
func (v View) CPUsOnSocket(socket int) []int {
	var out []int

	for cpu, s := range v.Socket {
		if s == socket {
			out = append(out, cpu)
		}
	}

	return out
}

// Prober is implemented by an external topology-discovery collaborator;
// this module consumes it but never implements a real one, matching
// spec.md's "consumes a topology-query interface... does not implement
// them".
type Prober interface {
	Probe() (View, error)
}

// Flat is the static fallback Prober used when no real one is wired: it
// assumes a single socket, no SMT, every logical CPU its own core.
type Flat struct {
	NumCPUs int
}

// Probe returns a flat, single-socket, non-SMT view of n CPUs.
func (f Flat) Probe() (View, error) {
	socket := make([]int, f.NumCPUs)
	core := make([]int, f.NumCPUs)

	for i := range core {
		core[i] = i
	}

	return View{NumCPUs: f.NumCPUs, Socket: socket, Core: core}, nil
}

// NewFlat constructs a Flat view directly, for callers that don't need
// the Prober indirection.
func NewFlat(nCPUs int) View {
	v, _ := Flat{NumCPUs: nCPUs}.Probe()

	return v
}
