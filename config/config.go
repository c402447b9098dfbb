// Package config implements the CLI surface of spec.md §6, adapted from
// the teacher's flag/flag.go subcommand-and-ParseSize pattern and the
// default-value table of original_source/src/config.c
// (init_def_args_conf), with flag > environment variable > default
// precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/llcevict/core/cachegeom"
)

// GraphType selects the occupancy-monitoring output shape, spec.md §6's
// "graph type selector".
type GraphType int

const (
	GraphNone GraphType = iota
	GraphRate
	GraphRateVsWait
	GraphHeatmap
)

// CLI is the parsed command-line surface common to every collaborator
// front-end, per spec.md §6.
type CLI struct {
	Verbose   int // 1..3
	Debug     int // 1..3
	NumThreads int // even; 0 means "as many as possible"

	CandScale     int
	NumL2Colors   int
	EvsetsPerL2   int
	NumOffsets    int
	TargetLevel   cachegeom.Level
	WaitUs        int
	GraphType     GraphType
	OutputSuffix  string
	TopologyAware bool // --vtop
	VTopFreqUs    int
}

func defaults() CLI {
	return CLI{
		Verbose:     0,
		Debug:       0,
		NumThreads:  0,
		CandScale:   0,
		NumL2Colors: 0,
		EvsetsPerL2: 1,
		NumOffsets:  1,
		TargetLevel: cachegeom.L3,
		WaitUs:      0,
		GraphType:   GraphNone,
		VTopFreqUs:  2_000_000,
	}
}

// Parse parses argv (including argv[0]) into a CLI value, applying
// flag > environment variable > built-in default precedence for every
// field that has an LLCEVICT_* environment override.
func Parse(argv []string) (CLI, error) {
	cli := defaults()
	applyEnv(&cli)

	if len(argv) < 1 {
		return cli, nil
	}

	fs := flag.NewFlagSet("llcevict", flag.ContinueOnError)

	fs.IntVar(&cli.Verbose, "v", cli.Verbose, "verbosity level (1-3)")
	fs.IntVar(&cli.Debug, "debug", cli.Debug, "debug level (1-3)")
	fs.IntVar(&cli.NumThreads, "threads", cli.NumThreads, "number of worker threads (even; 0 = as many as possible)")
	fs.IntVar(&cli.CandScale, "cand-scale", cli.CandScale, "candidate pool oversampling factor")
	fs.IntVar(&cli.NumL2Colors, "colors", cli.NumL2Colors, "number of L2 colors")
	fs.IntVar(&cli.EvsetsPerL2, "evsets-per-l2", cli.EvsetsPerL2, "eviction sets built per L2 color")
	fs.IntVar(&cli.NumOffsets, "offsets", cli.NumOffsets, "number of page offsets to build at")
	fs.IntVar(&cli.WaitUs, "wait-us", cli.WaitUs, "monitoring wait time in microseconds")
	fs.StringVar(&cli.OutputSuffix, "suffix", cli.OutputSuffix, "suffix appended to output data filenames")
	fs.BoolVar(&cli.TopologyAware, "vtop", cli.TopologyAware, "enable topology-aware orchestration")
	fs.IntVar(&cli.VTopFreqUs, "vtop-freq", cli.VTopFreqUs, "topology re-probe interval in microseconds")

	level := fs.String("level", cli.TargetLevel.String(), "target cache level: L1, L2, or L3")
	graph := fs.String("graph", graphTypeName(cli.GraphType), "graph type: none, rate, rate-vs-wait, or heatmap")

	if err := fs.Parse(argv[1:]); err != nil {
		return CLI{}, fmt.Errorf("config: parsing flags: %w", err)
	}

	lvl, err := parseLevel(*level)
	if err != nil {
		return CLI{}, err
	}

	cli.TargetLevel = lvl

	gt, err := parseGraphType(*graph)
	if err != nil {
		return CLI{}, err
	}

	cli.GraphType = gt

	return cli, cli.Validate()
}

// Validate reports configuration errors spec.md §7 requires be reported
// "before any measurement": invalid thread count, invalid cache level,
// contradictory flags.
func (c CLI) Validate() error {
	if c.NumThreads < 0 {
		return fmt.Errorf("config: num_threads must be >= 0, got %d", c.NumThreads)
	}

	if c.NumThreads > 0 && c.NumThreads%2 != 0 {
		return fmt.Errorf("config: num_threads must be even, got %d", c.NumThreads)
	}

	if c.Verbose < 0 || c.Verbose > 3 {
		return fmt.Errorf("config: verbose must be in [0,3], got %d", c.Verbose)
	}

	if c.Debug < 0 || c.Debug > 3 {
		return fmt.Errorf("config: debug must be in [0,3], got %d", c.Debug)
	}

	if c.TargetLevel == cachegeom.L1 {
		return fmt.Errorf("config: target level L1 is not a supported eviction target")
	}

	return nil
}

func parseLevel(s string) (cachegeom.Level, error) {
	switch s {
	case "L1", "l1":
		return cachegeom.L1, nil
	case "L2", "l2":
		return cachegeom.L2, nil
	case "L3", "l3":
		return cachegeom.L3, nil
	default:
		return 0, fmt.Errorf("config: unrecognized target level %q", s)
	}
}

func parseGraphType(s string) (GraphType, error) {
	switch s {
	case "none", "":
		return GraphNone, nil
	case "rate":
		return GraphRate, nil
	case "rate-vs-wait":
		return GraphRateVsWait, nil
	case "heatmap":
		return GraphHeatmap, nil
	default:
		return 0, fmt.Errorf("config: unrecognized graph type %q", s)
	}
}

func graphTypeName(g GraphType) string {
	switch g {
	case GraphRate:
		return "rate"
	case GraphRateVsWait:
		return "rate-vs-wait"
	case GraphHeatmap:
		return "heatmap"
	default:
		return "none"
	}
}

// applyEnv overlays LLCEVICT_* environment variables onto cli's defaults,
// sitting between built-in defaults and flags in the precedence order.
func applyEnv(cli *CLI) {
	if v, ok := envInt("LLCEVICT_VERBOSE"); ok {
		cli.Verbose = v
	}

	if v, ok := envInt("LLCEVICT_THREADS"); ok {
		cli.NumThreads = v
	}

	if v, ok := envInt("LLCEVICT_CAND_SCALE"); ok {
		cli.CandScale = v
	}

	if v, ok := envInt("LLCEVICT_WAIT_US"); ok {
		cli.WaitUs = v
	}

	if v := os.Getenv("LLCEVICT_SUFFIX"); v != "" {
		cli.OutputSuffix = v
	}
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return v, true
}
