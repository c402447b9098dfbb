package cachegeom_test

import (
	"runtime"
	"testing"

	"github.com/llcevict/core/cachegeom"
)

func TestProbeNonNegativeUnknownSIB(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skipf("cachegeom requires amd64, got %s", runtime.GOARCH)
	}

	g, err := cachegeom.Probe(cachegeom.Config{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	for _, d := range []cachegeom.Descriptor{g.L1, g.L2, g.L3} {
		if d.UnknownSIB < 0 {
			t.Fatalf("level %s: unknown_sib %d < 0", d.Level, d.UnknownSIB)
		}
	}

	if g.L1.Slices != 1 || g.L2.Slices != 1 {
		t.Fatalf("L1/L2 must report a single slice, got L1=%d L2=%d", g.L1.Slices, g.L2.Slices)
	}
}

func TestProbeSlicesOverride(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skipf("cachegeom requires amd64, got %s", runtime.GOARCH)
	}

	// 64 sets per slice keeps set_bits (6) + line_bits (6) at the page
	// offset, so unknown_sib stays non-negative.
	g, err := cachegeom.Probe(cachegeom.Config{SlicesOverride: 64})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if g.L3.AutoDetectedSlices {
		t.Fatalf("expected AutoDetectedSlices=false when SlicesOverride is set")
	}

	if g.L3.Slices != g.L3.Sets/64 {
		t.Fatalf("with 64 sets per slice, Slices should equal Sets/64: slices=%d sets=%d", g.L3.Slices, g.L3.Sets)
	}
}
