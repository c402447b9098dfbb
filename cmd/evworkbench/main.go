// Command evworkbench is a thin wiring example over the llcevict
// libraries: probe geometry, calibrate latency, build a color table,
// and print a coverage summary. It is not one of the five named
// collaborator front-ends this module supports as a library — those are
// built, deployed, and operated externally.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/config"
	"github.com/llcevict/core/corectx"
	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/monitor"
	"github.com/llcevict/core/orchestrator"
	"github.com/llcevict/core/report"
	"github.com/llcevict/core/topology"
	"github.com/llcevict/core/xtime"
)

func main() {
	if err := run(); err != nil {
		log.Printf("evworkbench: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := config.Parse(os.Args)
	if err != nil {
		return err
	}

	ctx, err := corectx.New(cachegeom.Config{}, xtime.CalibrateConfig{}, cli.Verbose)
	if err != nil {
		return err
	}

	l3, ok := ctx.Descriptor(cachegeom.L3)
	if !ok {
		return fmt.Errorf("evworkbench: target level unavailable")
	}

	pages := arena.ComputeArenaPages(l3, maxInt(cli.CandScale, 4))

	a, err := arena.New(pages)
	if err != nil {
		return err
	}

	pool := a.View(0)
	defer pool.Release() //nolint:errcheck

	l2, _ := ctx.Descriptor(cachegeom.L2)

	buildCfg := evset.NewConfigBuilder(l3).Build()
	l2Cfg := evset.NewConfigBuilder(l2).Build()

	numPairs := maxInt(cli.NumThreads/2, 1)

	orchCfg := orchestrator.Config{
		Ctx:           ctx,
		NumPairs:      numPairs,
		EvsetsPerL2:   cli.EvsetsPerL2,
		TopologyAware: cli.TopologyAware,
		RepinInterval: time.Duration(cli.VTopFreqUs) * time.Microsecond,
		Topo:          topology.Flat{NumCPUs: numPairs * 2},
		L2Cfg:         l2Cfg,
		L3Cfg:         buildCfg,
	}

	units := orchestrator.CoarseOffsets{NumOffsets: cli.NumOffsets}

	table, coverage, err := orchestrator.Run(context.Background(), pool, units, orchestrator.SameSocketNonSMT{}, orchCfg)
	if err != nil {
		return err
	}

	log.Printf("built %d/%d cells, smallest evset size %d", coverage.Filled, coverage.Total, coverage.SmallestSize)

	if err := evset.SaveTable("evworkbench.table", table); err != nil {
		return err
	}

	header := report.Header{
		Tool:      "evworkbench",
		Timestamp: time.Now(),
		Params: map[string]string{
			"threads": fmt.Sprintf("%d", cli.NumThreads),
			"level":   cli.TargetLevel.String(),
		},
	}

	rows := []report.Row{{X: float64(coverage.Filled), Y: float64(coverage.Total), Z: float64(coverage.SmallestSize), HasZ: true}}

	if err := report.WriteDataFile("", "coverage"+cli.OutputSuffix+".dat", header, rows); err != nil {
		return err
	}

	return monitorOccupancy(table, ctx, cli, l3)
}

// monitorOccupancy runs a rate-vs-wait sweep over color 0 of table,
// logs the takeoff wait (spec.md §8 scenario 5), and writes the sweep
// to a data file alongside the coverage summary.
func monitorOccupancy(table *evset.ColorTable, ctx corectx.Context, cli config.CLI, l3 cachegeom.Descriptor) error {
	waitMax := cli.WaitUs
	if waitMax <= 0 {
		waitMax = 5000
	}

	waitStep := maxInt(waitMax/10, 1)
	thresh := ctx.Threshold(cli.TargetLevel)

	points, err := monitor.RateVsWait(table, 0, thresh, 3, l3.Ways, 0, waitMax, waitStep)
	if err != nil {
		return err
	}

	if w, ok := monitor.Takeoff(points); ok {
		log.Printf("color 0: rate-vs-wait takeoff at %d us", w)
	}

	rows := make([]report.Row, len(points))
	for i, p := range points {
		rows[i] = report.Row{X: float64(p.WaitUs), Y: p.Rate}
	}

	header := report.Header{
		Tool:      "evworkbench",
		Timestamp: time.Now(),
		Params:    map[string]string{"color": "0"},
	}

	return report.WriteDataFile("", "rate_vs_wait"+cli.OutputSuffix+".dat", header, rows)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
