package llcbuild_test

import (
	"testing"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/llcbuild"
)

// fakeTester simulates a congruent cache: any prefix that includes at
// least `ways` handles drawn from the first `congruentUpTo` pool
// positions is reported as evicting the target, letting the pruning
// state machine be exercised without real silicon (SPEC_FULL.md §10).
type fakeTester struct {
	ways          int
	congruentUpTo int
}

func (f *fakeTester) Test(view *arena.View, target arena.Handle, cands []arena.Handle, cfg evset.BuildConfig) bool {
	count := 0

	for _, h := range cands {
		if int(h) < f.congruentUpTo {
			count++
		}
	}

	return count >= f.ways
}

func newFakeView(t *testing.T, n int) *arena.View {
	t.Helper()

	a, err := arena.New(n)
	if err != nil {
		t.Skipf("arena.New unavailable in this environment: %v", err)
	}

	v := a.View(0)
	t.Cleanup(func() { _ = v.Release() })

	return v
}

func TestBuildConvergesToExpectedSize(t *testing.T) {
	view := newFakeView(t, 64)

	target := cachegeom.Descriptor{Ways: 11, UnknownSIB: 2}
	cfg := evset.NewConfigBuilder(target).
		CandScale(2).
		ExtraCong(1).
		Trials(1).
		UppBnd(1).
		MaxBacktrack(32).
		Build()

	tester := &fakeTester{ways: target.Ways, congruentUpTo: 20}

	set, err := llcbuild.Build(tester, arena.Handle(63), view, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if set == nil {
		t.Fatalf("Build returned a nil set, want a converged eviction set")
	}

	if set.Len() < cfg.ExpectedSize() {
		t.Fatalf("set size = %d, want >= %d (m*)", set.Len(), cfg.ExpectedSize())
	}

	if set.Len() > cfg.EvCap() {
		t.Fatalf("set size = %d exceeds ev_cap %d", set.Len(), cfg.EvCap())
	}
}

func TestBuildFailsGracefullyWhenNothingEvicts(t *testing.T) {
	view := newFakeView(t, 32)

	target := cachegeom.Descriptor{Ways: 11, UnknownSIB: 1}
	cfg := evset.NewConfigBuilder(target).
		Trials(1).
		UppBnd(1).
		MaxBacktrack(4).
		Build()

	tester := &fakeTester{ways: target.Ways, congruentUpTo: 0} // nothing ever evicts

	set, err := llcbuild.Build(tester, arena.Handle(0), view, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if set != nil {
		t.Fatalf("Build returned a set %v, want nil on exhausted backtracks", set)
	}
}
