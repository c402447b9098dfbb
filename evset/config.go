// Package evset holds the shared data model of spec.md §3: build
// configuration, eviction sets, and the color-indexed set table that
// the builders produce and the monitor consumes.
package evset

import "github.com/llcevict/core/cachegeom"

// PollutePattern names three pollution traversal patterns, supplemented
// from original_source/src/vpoisoner.c and polluter.c. No code in the
// module reads it: the helper engine's Traverse action takes a
// caller-supplied function, not a PollutePattern.
type PollutePattern int

const (
	Sequential PollutePattern = iota
	Strided
	Random
)

// BuildConfig is the immutable record of spec.md §3's "Build
// configuration": candidate scaling, thresholds, trial/backtrack/slack
// knobs, and traversal parameters. Constructed once via NewConfigBuilder
// and never mutated afterward (DESIGN NOTES §9).
type BuildConfig struct {
	CandScale  int // candidate pool oversampling factor
	CapScaling int // ev_cap = cap_scaling * W
	Slack      int // sigma: allowed LLC set size above W after pruning
	ExtraCong  int // extra_cong: m* = W + extra_cong

	MaxBacktrack int // B
	VerifyRetry  int // retries on a failed verify, with a new target
	RetryTimeoutMs int // wall-clock bound on verify retries

	Trials  int // oracle trials per test() call
	UppBnd  int // acceptance threshold: "at least upp_bnd of trials"

	AccessRepeat int  // access-and-repeat count during priming
	Block        int  // traversal block size
	Stride       int  // traversal stride
	BatchFilter  bool // batch vs sequential L2 admission test (DESIGN NOTES open question b)

	Target cachegeom.Descriptor
}

// ConfigBuilder incrementally assembles an immutable BuildConfig.
type ConfigBuilder struct {
	cfg BuildConfig
}

// NewConfigBuilder seeds sane defaults matching spec.md's description of
// "fast convergence" knobs for L2 and the fuller knobs for L3; callers
// override what they need before calling Build.
func NewConfigBuilder(target cachegeom.Descriptor) *ConfigBuilder {
	return &ConfigBuilder{cfg: BuildConfig{
		CandScale:      4,
		CapScaling:     3,
		Slack:          2,
		ExtraCong:      1,
		MaxBacktrack:   16,
		VerifyRetry:    8,
		RetryTimeoutMs: 2000,
		Trials:         15,
		UppBnd:         10,
		AccessRepeat:   2,
		Block:          16,
		Stride:         1,
		BatchFilter:    true,
		Target:         target,
	}}
}

func (b *ConfigBuilder) CandScale(v int) *ConfigBuilder      { b.cfg.CandScale = v; return b }
func (b *ConfigBuilder) CapScaling(v int) *ConfigBuilder     { b.cfg.CapScaling = v; return b }
func (b *ConfigBuilder) Slack(v int) *ConfigBuilder          { b.cfg.Slack = v; return b }
func (b *ConfigBuilder) ExtraCong(v int) *ConfigBuilder      { b.cfg.ExtraCong = v; return b }
func (b *ConfigBuilder) MaxBacktrack(v int) *ConfigBuilder   { b.cfg.MaxBacktrack = v; return b }
func (b *ConfigBuilder) VerifyRetry(v int) *ConfigBuilder    { b.cfg.VerifyRetry = v; return b }
func (b *ConfigBuilder) RetryTimeoutMs(v int) *ConfigBuilder { b.cfg.RetryTimeoutMs = v; return b }
func (b *ConfigBuilder) Trials(v int) *ConfigBuilder         { b.cfg.Trials = v; return b }
func (b *ConfigBuilder) UppBnd(v int) *ConfigBuilder         { b.cfg.UppBnd = v; return b }
func (b *ConfigBuilder) AccessRepeat(v int) *ConfigBuilder   { b.cfg.AccessRepeat = v; return b }
func (b *ConfigBuilder) Block(v int) *ConfigBuilder          { b.cfg.Block = v; return b }
func (b *ConfigBuilder) Stride(v int) *ConfigBuilder         { b.cfg.Stride = v; return b }
func (b *ConfigBuilder) BatchFilter(v bool) *ConfigBuilder   { b.cfg.BatchFilter = v; return b }

// Build returns the assembled, immutable BuildConfig. The builder must
// not be reused afterward to keep the "immutable value" property honest.
func (b *ConfigBuilder) Build() BuildConfig { return b.cfg }

// EvCap returns ev_cap = cap_scaling * W for the configured target level.
func (c BuildConfig) EvCap() int { return c.CapScaling * c.Target.Ways }

// ExpectedSize returns m* = W + extra_cong.
func (c BuildConfig) ExpectedSize() int { return c.Target.Ways + c.ExtraCong }
