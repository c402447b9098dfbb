// Package orchestrator implements component G: parallel construction of
// eviction sets across main/helper CPU pairs, one scheduler with
// pluggable work-unit iteration and pin policy (DESIGN NOTES §9: "these
// unify under one scheduler").
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/fgprof"
	"github.com/pkg/profile"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/corectx"
	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/helper"
	"github.com/llcevict/core/internal/pin"
	"github.com/llcevict/core/l2filter"
	"github.com/llcevict/core/llcbuild"
	"github.com/llcevict/core/topology"
)

// WorkUnit is either a page offset (all colors) or a (offset, color)
// cell, depending on which WorkUnitIterator produced it.
type WorkUnit struct {
	Offset int
	Color  int // -1 means "every color at this offset", for coarse units
}

// WorkUnitIterator splits the total work into per-pair assignment lists,
// spec.md §4.G's coarse/granular split.
type WorkUnitIterator interface {
	Assign(numPairs int) [][]WorkUnit
}

// CoarseOffsets assigns whole page offsets to pairs; per-pair totals are
// base +/- 1, spec.md §4.G's "coarse" mode.
type CoarseOffsets struct {
	NumOffsets int
}

func (c CoarseOffsets) Assign(numPairs int) [][]WorkUnit {
	if numPairs <= 0 {
		numPairs = 1
	}

	out := make([][]WorkUnit, numPairs)

	for o := 0; o < c.NumOffsets; o++ {
		p := o % numPairs
		out[p] = append(out[p], WorkUnit{Offset: o, Color: -1})
	}

	return out
}

// GranularCells splits the cross-product of offsets x colors evenly
// across pairs, spec.md §4.G's "granular" mode.
type GranularCells struct {
	NumOffsets int
	NumColors  int
}

func (g GranularCells) Assign(numPairs int) [][]WorkUnit {
	if numPairs <= 0 {
		numPairs = 1
	}

	out := make([][]WorkUnit, numPairs)

	i := 0

	for o := 0; o < g.NumOffsets; o++ {
		for c := 0; c < g.NumColors; c++ {
			p := i % numPairs
			out[p] = append(out[p], WorkUnit{Offset: o, Color: c})
			i++
		}
	}

	return out
}

// Pair is a main/helper logical-CPU assignment.
type Pair struct {
	Main, Helper int
}

// PinPolicy selects main/helper CPU pairs from a topology view.
type PinPolicy interface {
	Pairs(numPairs int, topo topology.View) ([]Pair, error)
}

// SameSocketNonSMT picks pairs of distinct, non-SMT-sibling CPUs on the
// same socket, spec.md §4.G's preferred pairing.
type SameSocketNonSMT struct{}

func (SameSocketNonSMT) Pairs(numPairs int, topo topology.View) ([]Pair, error) {
	var pairs []Pair

	used := make(map[int]bool)

	for _, socket := range topo.Sockets() {
		cpus := topo.CPUsOnSocket(socket)

		for i := 0; i < len(cpus) && len(pairs) < numPairs; i++ {
			if used[cpus[i]] {
				continue
			}

			for j := i + 1; j < len(cpus); j++ {
				if used[cpus[j]] {
					continue
				}

				if topo.SameSocketNonSMT(cpus[i], cpus[j]) {
					pairs = append(pairs, Pair{Main: cpus[i], Helper: cpus[j]})
					used[cpus[i]] = true
					used[cpus[j]] = true

					break
				}
			}
		}
	}

	if len(pairs) < numPairs {
		return pairs, fmt.Errorf("orchestrator: topology yielded %d pairs, wanted %d", len(pairs), numPairs)
	}

	return pairs, nil
}

// Static returns a fixed, caller-supplied pair list, ignoring topology.
type Static struct {
	Fixed []Pair
}

func (s Static) Pairs(numPairs int, topo topology.View) ([]Pair, error) {
	if len(s.Fixed) < numPairs {
		return s.Fixed, fmt.Errorf("orchestrator: static pair list has %d entries, wanted %d", len(s.Fixed), numPairs)
	}

	return s.Fixed[:numPairs], nil
}

// Config configures one orchestrator run.
type Config struct {
	Ctx corectx.Context

	NumPairs     int
	EvsetsPerL2  int
	RuntimeLimit time.Duration

	TopologyAware bool
	RepinInterval time.Duration
	Topo          topology.Prober

	Profile    bool
	ProfileOut io.Writer // destination for the fgprof wall-clock profile; discarded if nil

	L2Cfg evset.BuildConfig
	L3Cfg evset.BuildConfig
}

// Coverage summarizes a run's outcome, spec.md §7's "coverage ratio and
// a minimal-evset-size summary".
type Coverage struct {
	Filled       int
	Total        int
	SmallestSize int
}

// Run drives component G's parallel construction: one goroutine pair
// (main + helper) per work-unit owner, pinned via internal/pin, writing
// disjoint cells of table. Pair construction/join follows vmm.Boot's
// wg.Add/goroutine/wg.Wait shape, generalized to CPU pairs instead of
// vCPUs.
func Run(ctx context.Context, pool *arena.View, units WorkUnitIterator, pin PinPolicy, cfg Config) (*evset.ColorTable, Coverage, error) {
	if cfg.Profile {
		stopCPU := profile.Start(profile.CPUProfile, profile.Quiet)
		defer stopCPU.Stop()

		out := cfg.ProfileOut
		if out == nil {
			out = io.Discard
		}

		stopWall := fgprof.Start(out, fgprof.FormatPprof)
		defer stopWall() //nolint:errcheck
	}

	topo, err := probeTopology(cfg)
	if err != nil {
		log.Printf("orchestrator: topology probe failed, falling back to flat: %v", err)

		topo = topology.NewFlat(runtime.NumCPU())
	}

	pairs, err := pin.Pairs(cfg.NumPairs, topo)
	if err != nil {
		return nil, Coverage{}, fmt.Errorf("orchestrator: selecting pairs: %w", err)
	}

	numOffsets, numColors := coverageShape(units, cfg)

	table := evset.NewColorTable(numOffsets, numColors, cfg.EvsetsPerL2)

	assignments := units.Assign(len(pairs))

	var progress atomic.Int64

	var wg sync.WaitGroup

	deadline := time.Now().Add(cfg.RuntimeLimit)
	if cfg.RuntimeLimit <= 0 {
		deadline = time.Time{}
	}

	for i, p := range pairs {
		wg.Add(1)

		go func(pairIdx int, pair Pair, assigned []WorkUnit) {
			defer wg.Done()

			runPair(ctx, pairIdx, pair, assigned, pool, table, cfg, &progress, deadline)
		}(i, p, assignments[i])
	}

	wg.Wait()

	filled, total := table.Coverage()

	return table, Coverage{Filled: filled, Total: total, SmallestSize: minSetSize(table)}, nil
}

func probeTopology(cfg Config) (topology.View, error) {
	if cfg.Topo == nil {
		return topology.View{}, fmt.Errorf("orchestrator: no topology.Prober configured")
	}

	return cfg.Topo.Probe()
}

func coverageShape(units WorkUnitIterator, cfg Config) (numOffsets, numColors int) {
	switch u := units.(type) {
	case CoarseOffsets:
		return u.NumOffsets, numColorsFromCfg(cfg)
	case GranularCells:
		return u.NumOffsets, u.NumColors
	default:
		return 1, numColorsFromCfg(cfg)
	}
}

func numColorsFromCfg(cfg Config) int {
	if cfg.EvsetsPerL2 <= 0 {
		return 1
	}

	return cfg.EvsetsPerL2
}

// runPair is the per-pair worker loop: pin main thread, start a helper
// pinned to the partner CPU, work through the assigned units, and stop
// the helper on completion (spec.md §4.G's "Worker loop").
func runPair(ctx context.Context, pairIdx int, pair Pair, assigned []WorkUnit, pool *arena.View, table *evset.ColorTable, cfg Config, progress *atomic.Int64, deadline time.Time) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := pin.Set(pair.Main); err != nil {
		log.Printf("orchestrator: pair %d: pinning main to cpu %d: %v", pairIdx, pair.Main, err)
	}

	h, err := helper.New(pair.Helper)
	if err != nil {
		log.Printf("orchestrator: pair %d: starting helper on cpu %d: %v", pairIdx, pair.Helper, err)

		return
	}

	defer h.Stop()

	var repinTicker *time.Ticker
	if cfg.TopologyAware && cfg.RepinInterval > 0 {
		repinTicker = time.NewTicker(cfg.RepinInterval)
		defer repinTicker.Stop()
	}

	for _, unit := range assigned {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if repinTicker != nil {
			select {
			case <-repinTicker.C:
				if topo, err := probeTopology(cfg); err == nil && !topo.SameSocketNonSMT(pair.Main, pair.Helper) {
					if newHelper, ok := pickReplacementHelper(topo, pair.Main); ok {
						log.Printf("orchestrator: pair %d no longer same-socket-non-SMT, re-pinning in place (helper cpu %d -> %d)", pairIdx, pair.Helper, newHelper)

						if err := pin.Set(pair.Main); err != nil {
							log.Printf("orchestrator: pair %d: re-pinning main to cpu %d: %v", pairIdx, pair.Main, err)
						}

						h.Repin(newHelper)

						pair.Helper = newHelper
					} else {
						log.Printf("orchestrator: pair %d no longer same-socket-non-SMT, no replacement helper cpu available", pairIdx)
					}
				}
			default:
			}
		}

		processUnit(h, unit, pool, table, cfg)
		progress.Add(1)
	}
}

// pickReplacementHelper finds a logical CPU on main's socket that isn't an
// SMT sibling of main, for in-place re-pinning when a periodic topology
// re-probe finds the pair no longer satisfies same-socket-non-SMT.
func pickReplacementHelper(topo topology.View, main int) (int, bool) {
	for _, cpu := range topo.CPUsOnSocket(topo.Socket[main]) {
		if topo.SameSocketNonSMT(main, cpu) {
			return cpu, true
		}
	}

	return 0, false
}

// processUnit builds the filter sets and LLC sets for one work unit and
// writes them into table. For slot s, the first s pool positions are
// excluded as targets so successive slots start from different targets;
// candidate targets are not tested for eviction by previously built sets.
func processUnit(h *helper.Engine, unit WorkUnit, pool *arena.View, table *evset.ColorTable, cfg Config) {
	colors := []int{unit.Color}
	if unit.Color < 0 {
		colors = make([]int, numColorsFromCfg(cfg))
		for c := range colors {
			colors[c] = c
		}
	}

	var builtThisOffset []*evset.Set

	for _, color := range colors {
		filterSet, err := l2filter.BuildColor(pool, builtThisOffset, cfg.L2Cfg,
			cfg.Ctx.Threshold(cfg.Ctx.Geometry.L2.Level), cfg.Ctx.Latency.InterruptThresh, cfg.Ctx.Geometry.L2.HasCLFlushOpt)
		if err != nil || filterSet == nil {
			continue
		}

		filterSet.L2Color = color
		builtThisOffset = append(builtThisOffset, filterSet)

		for slot := 0; slot < cfg.EvsetsPerL2; slot++ {
			tester := llcbuild.NewMainPlusHelper(llcbuild.Oracle{
				Thresh:          cfg.Ctx.Threshold(cfg.Ctx.Geometry.L3.Level),
				InterruptThresh: cfg.Ctx.Latency.InterruptThresh,
				Trials:          cfg.L3Cfg.Trials,
				UppBnd:          cfg.L3Cfg.UppBnd,
				Filter:          filterSet,
				HasCLFlushOpt:   cfg.Ctx.Geometry.L3.HasCLFlushOpt,
			}, h)

			excluded := map[arena.Handle]bool{}
			for i := 0; i < pool.Len() && i < slot; i++ {
				excluded[pool.At(i)] = true
			}

			candidates := make([]arena.Handle, pool.Len())
			for i := range candidates {
				candidates[i] = pool.At(i)
			}

			set, err := llcbuild.BuildWithRetry(context.Background(), tester, candidates, excluded, pool, cfg.L3Cfg)
			if err != nil || set == nil {
				continue
			}

			set.Filter = filterSet
			set.Helper = h
			set.L2Color = color

			table.Put(unit.Offset, color, slot, set)
		}
	}
}

func minSetSize(table *evset.ColorTable) int {
	numOffsets, numColors, slots := table.Shape()

	min := -1

	for o := 0; o < numOffsets; o++ {
		for c := 0; c < numColors; c++ {
			for s := 0; s < slots; s++ {
				set := table.Get(o, c, s)
				if set == nil {
					continue
				}

				if min < 0 || set.Len() < min {
					min = set.Len()
				}
			}
		}
	}

	if min < 0 {
		return 0
	}

	return min
}
