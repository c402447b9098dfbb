// Package corectx bundles the calibrated, read-only state every builder
// and monitor operation needs — cache geometry, latency thresholds, and
// configuration — into one value threaded explicitly through calls,
// replacing the globals DESIGN NOTES §9 flags ("CoreContext value").
package corectx

import (
	"fmt"

	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/xtime"
)

// Context is built once per process and passed by value (it is small and
// immutable after construction) to every operation that needs geometry
// or timing thresholds.
type Context struct {
	Geometry cachegeom.Geometry
	Latency  xtime.LatencyVector
	Verbose  int // 0..3, matches spec.md §6's CLI verbosity levels
}

// New probes cache geometry and calibrates latency thresholds in one
// step, the sequence every collaborator front-end performs at startup.
func New(geomCfg cachegeom.Config, calCfg xtime.CalibrateConfig, verbose int) (Context, error) {
	geo, err := cachegeom.Probe(geomCfg)
	if err != nil {
		return Context{}, fmt.Errorf("corectx: probing cache geometry: %w", err)
	}

	lat, err := xtime.Calibrate(geo, calCfg)
	if err != nil {
		return Context{}, fmt.Errorf("corectx: calibrating latency: %w", err)
	}

	return Context{Geometry: geo, Latency: lat, Verbose: verbose}, nil
}

// Descriptor returns the cachegeom.Descriptor for the configured level,
// the (lvl, ok) accessor pattern callers use to find an L2 or L3 target.
func (c Context) Descriptor(lvl cachegeom.Level) (cachegeom.Descriptor, bool) {
	switch lvl {
	case cachegeom.L1:
		return c.Geometry.L1, true
	case cachegeom.L2:
		return c.Geometry.L2, true
	case cachegeom.L3:
		return c.Geometry.L3, true
	default:
		return cachegeom.Descriptor{}, false
	}
}

// Threshold returns the eviction-latency threshold for the given level,
// the value test oracles compare a timed access against.
func (c Context) Threshold(lvl cachegeom.Level) uint64 {
	switch lvl {
	case cachegeom.L1:
		return c.Latency.ThreshL1
	case cachegeom.L2:
		return c.Latency.ThreshL2
	default:
		return c.Latency.ThreshL3
	}
}
