package evset

import (
	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/helper"
)

// Set is spec.md §3's EvSet: a target line, an ordered, length-capped
// sequence of lines congruent with it, the descriptor of the level it
// targets, the configuration it was built with, the view it was pruned
// from, an optional lower-level filter set, and (for LLC sets) an
// attached helper.
type Set struct {
	Target cachegeom.Descriptor
	Config BuildConfig

	TargetHandle arena.Handle
	Lines        []arena.Handle

	View   *arena.View
	Filter *Set // filter_ev: the L2 set used to admit candidates, if any
	Helper *helper.Engine

	L2Color int // the L2 color this set was built for, -1 if not colored
}

// Len reports the current eviction set size.
func (s *Set) Len() int { return len(s.Lines) }

// Tester is the small capability trait of DESIGN NOTES §9: "polymorphism
// over traversal functions" becomes a two-variant interface instead of
// function pointers in BuildConfig.
type Tester interface {
	// Test measures whether accessing target after priming with the
	// first n candidates evicts it from the target level, on at least
	// cfg.UppBnd of cfg.Trials repetitions.
	Test(view *arena.View, target arena.Handle, cands []arena.Handle, cfg BuildConfig) bool
}

// Shift re-applies a cache-line offset to every line in s, producing a
// new Set with independent pointer data but shared metadata — spec.md
// §4.E: "shifted sets share metadata but have independent pointer
// arrays." The caller supplies the already-shifted view (arena.View.Shift).
func (s *Set) Shift(shiftedView *arena.View, shiftedTarget arena.Handle) *Set {
	lines := make([]arena.Handle, len(s.Lines))
	copy(lines, s.Lines)

	return &Set{
		Target:       s.Target,
		Config:       s.Config,
		TargetHandle: shiftedTarget,
		Lines:        lines,
		View:         shiftedView,
		Filter:       s.Filter,
		Helper:       s.Helper,
		L2Color:      s.L2Color,
	}
}
