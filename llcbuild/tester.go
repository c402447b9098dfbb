// Package llcbuild implements component F, the Zhao-style eviction-set
// pruning algorithm, and the two evset.Tester oracle implementations it
// drives (main-only and main-plus-helper priming).
package llcbuild

import (
	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/helper"
	"github.com/llcevict/core/xtime"
)

// Oracle bundles what a Tester needs beyond the candidate slice itself:
// the threshold to compare against, the filter set to traverse first (if
// any), and whether the CPU supports CLFLUSHOPT.
type Oracle struct {
	Thresh          uint64
	InterruptThresh uint64
	Trials          int
	UppBnd          int

	Filter *evset.Set // lower-level set traversed to force eviction from that level, may be nil

	HasCLFlushOpt bool
}

// mainOnly primes the candidate pool entirely from the main thread, the
// Daniel-Gruss block/stride backward prime named in spec.md §4.F.
type mainOnly struct{ Oracle }

// mainPlusHelper splits the prime between the main thread and a helper
// engine traversing from the opposite end simultaneously, and loads the
// target from the helper first so it is marked shared before the main
// thread touches it (spec.md §4.F: "helper first so the line is marked
// as shared").
type mainPlusHelper struct {
	Oracle
	Helper *helper.Engine
}

// NewMainOnly builds a Tester that primes entirely on the calling thread.
func NewMainOnly(o Oracle) evset.Tester { return &mainOnly{Oracle: o} }

// NewMainPlusHelper builds a Tester that splits priming with h. The
// caller chooses between this and NewMainOnly: the orchestrator uses this
// one for LLC sets, l2filter.BuildColor uses NewMainOnly.
func NewMainPlusHelper(o Oracle, h *helper.Engine) evset.Tester {
	return &mainPlusHelper{Oracle: o, Helper: h}
}

func (o *mainOnly) Test(view *arena.View, target arena.Handle, cands []arena.Handle, cfg evset.BuildConfig) bool {
	hits := 0

	for trial := 0; trial < o.Trials; trial++ {
		o.primeFilter(view, cfg)

		xtime.Flush(view.Addr(target), o.HasCLFlushOpt)

		primeBackward(view, cands, cfg)

		if o.evicted(view, target) {
			hits++
		}
	}

	return hits >= o.UppBnd
}

func (o *mainPlusHelper) Test(view *arena.View, target arena.Handle, cands []arena.Handle, cfg evset.BuildConfig) bool {
	hits := 0

	for trial := 0; trial < o.Trials; trial++ {
		o.primeFilter(view, cfg)

		xtime.Flush(view.Addr(target), o.HasCLFlushOpt)

		o.Helper.ReadOne(view.Addr(target))

		half := len(cands) / 2

		done := make(chan struct{})

		go func() {
			defer close(done)
			o.Helper.Traverse(func() { primeForward(view, cands[half:], cfg) })
		}()

		primeBackward(view, cands[:half], cfg)
		<-done

		if o.evicted(view, target) {
			hits++
		}
	}

	return hits >= o.UppBnd
}

// primeFilter traverses the lower-level filter set, when configured, to
// force eviction from that level before the target is touched.
func (o *Oracle) primeFilter(view *arena.View, cfg evset.BuildConfig) {
	if o.Filter == nil || o.Filter.View == nil {
		return
	}

	for _, h := range o.Filter.Lines {
		_ = xtime.TimeMaccess(o.Filter.View.Addr(h))
	}
}

// evicted loads target once and compares the latency to the configured
// threshold, discarding samples above InterruptThresh (measurement
// contamination, spec.md §4.F).
func (o *Oracle) evicted(view *arena.View, target arena.Handle) bool {
	cycles := xtime.TimeMaccess(view.Addr(target))
	if o.InterruptThresh > 0 && cycles > o.InterruptThresh {
		return false
	}

	return cycles >= o.Thresh
}

func primeBackward(view *arena.View, cands []arena.Handle, cfg evset.BuildConfig) {
	block := cfg.Block
	if block <= 0 {
		block = len(cands)
	}

	stride := cfg.Stride
	if stride <= 0 {
		stride = 1
	}

	for r := 0; r < maxInt(cfg.AccessRepeat, 1); r++ {
		for start := 0; start < len(cands); start += block {
			end := minInt(start+block, len(cands))

			for i := end - 1; i >= start; i -= stride {
				_ = xtime.TimeMaccess(view.Addr(cands[i]))
			}
		}
	}
}

func primeForward(view *arena.View, cands []arena.Handle, cfg evset.BuildConfig) {
	block := cfg.Block
	if block <= 0 {
		block = len(cands)
	}

	stride := cfg.Stride
	if stride <= 0 {
		stride = 1
	}

	for r := 0; r < maxInt(cfg.AccessRepeat, 1); r++ {
		for start := 0; start < len(cands); start += block {
			end := minInt(start+block, len(cands))

			for i := start; i < end; i += stride {
				_ = xtime.TimeMaccess(view.Addr(cands[i]))
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
