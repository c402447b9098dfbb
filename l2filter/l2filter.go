// Package l2filter implements component E: one verified L2 eviction set
// per cache-line color, built by driving the same Zhao pruning algorithm
// llcbuild uses, tuned for the L2 level and shifted to every offset
// within a page.
package l2filter

import (
	"fmt"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/llcbuild"
)

// BuildColor constructs one verified L2 eviction set against pool using
// the real main-only oracle, rejecting targets evicted by the union of
// previously built colors so distinct colors stay distinct (spec.md
// §4.E step 4).
func BuildColor(pool *arena.View, union []*evset.Set, cfg evset.BuildConfig, thresh, interruptThresh uint64, hasCLFlushOpt bool) (*evset.Set, error) {
	tester := llcbuild.NewMainOnly(llcbuild.Oracle{
		Thresh:          thresh,
		InterruptThresh: interruptThresh,
		Trials:          cfg.Trials,
		UppBnd:          cfg.UppBnd,
		HasCLFlushOpt:   hasCLFlushOpt,
	})

	return BuildColorWithTester(tester, pool, union, cfg)
}

// BuildColorWithTester is BuildColor with an injectable evset.Tester, the
// seam SPEC_FULL.md's test plan uses to exercise the union-rejection and
// exact-size-retry logic with a fake oracle instead of real silicon.
// Returns (nil, nil) when the whole procedure is exhausted, matching
// llcbuild's failure semantics.
func BuildColorWithTester(tester evset.Tester, pool *arena.View, union []*evset.Set, cfg evset.BuildConfig) (*evset.Set, error) {
	excluded := unionOf(union)

	wholeRetries := maxWholeRetries(cfg)

	for attempt := 0; attempt < wholeRetries; attempt++ {
		target, ok := pickTarget(pool, excluded)
		if !ok {
			return nil, fmt.Errorf("l2filter: candidate pool exhausted by union-rejection")
		}

		set := tryBuildExact(tester, target, pool, cfg)
		if set != nil {
			return set, nil
		}
	}

	return nil, nil // spec.md §4.E: failed whole procedure, caller retries with a fresh pool
}

// tryBuildExact drives llcbuild.Build against target up to cfg.VerifyRetry
// times, requiring the result to land at exactly W_L2 lines (spec.md
// §4.E step 3: "exactly W_L2 lines and ... verification by a fresh test
// passes").
func tryBuildExact(tester evset.Tester, target arena.Handle, pool *arena.View, cfg evset.BuildConfig) *evset.Set {
	for retry := 0; retry < cfg.VerifyRetry; retry++ {
		set, err := llcbuild.Build(tester, target, pool, cfg)
		if err != nil || set == nil {
			continue
		}

		if set.Len() != cfg.Target.Ways {
			continue
		}

		if !tester.Test(pool, set.TargetHandle, set.Lines, cfg) {
			continue
		}

		set.L2Color = -1 // caller fills the actual color index once chosen

		return set
	}

	return nil
}

// pickTarget picks the first pool candidate not evicted by the union of
// previously built L2 sets for distinct colors.
func pickTarget(pool *arena.View, excluded map[arena.Handle]bool) (arena.Handle, bool) {
	for i := 0; i < pool.Len(); i++ {
		h := pool.At(i)
		if !excluded[h] {
			return h, true
		}
	}

	return 0, false
}

// unionOf flattens every line of every previously built set into an
// exclusion set, spec.md §4.E's union-rejection rule.
func unionOf(union []*evset.Set) map[arena.Handle]bool {
	excluded := make(map[arena.Handle]bool)

	for _, s := range union {
		if s == nil {
			continue
		}

		excluded[s.TargetHandle] = true

		for _, h := range s.Lines {
			excluded[h] = true
		}
	}

	return excluded
}

func maxWholeRetries(cfg evset.BuildConfig) int {
	if cfg.MaxBacktrack <= 0 {
		return 1
	}

	return cfg.MaxBacktrack
}

// Shift re-applies a color's built set at one given page offset, producing
// a set that shares metadata but has an independent pointer array
// (spec.md §4.E: "shifted sets share metadata but have independent
// pointer arrays"). Callers wanting every offset call it once per offset.
func Shift(set *evset.Set, arenaRef *arena.Arena, offset int) *evset.Set {
	shiftedView := arenaRef.View(offset)

	// Page indices are unchanged by a shift; only the byte offset within
	// each page differs, which View.Addr applies when resolving a handle.
	return set.Shift(shiftedView, set.TargetHandle)
}
