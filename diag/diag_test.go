package diag_test

import (
	"testing"

	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/diag"
)

func TestCapabilitiesReflectsGeometry(t *testing.T) {
	geo := cachegeom.Geometry{
		L1: cachegeom.Descriptor{Ways: 8},
		L2: cachegeom.Descriptor{Ways: 16},
		L3: cachegeom.Descriptor{Ways: 11, AutoDetectedSlices: true, HasCLFlushOpt: true},
	}

	caps := diag.Capabilities(geo)

	want := map[string]bool{
		"L1D ways":                true,
		"L2 ways":                 true,
		"L3 ways":                 true,
		"L3 slices auto-detected": true,
		"CLFLUSHOPT":              true,
	}

	if len(caps) != len(want) {
		t.Fatalf("got %d capabilities, want %d", len(caps), len(want))
	}

	for _, c := range caps {
		if want[c.Name] != c.Present {
			t.Errorf("capability %q = %v, want %v", c.Name, c.Present, want[c.Name])
		}
	}
}

func TestCapabilitiesReportsAbsence(t *testing.T) {
	caps := diag.Capabilities(cachegeom.Geometry{})

	for _, c := range caps {
		if c.Present {
			t.Errorf("capability %q = true for a zero-value geometry, want false", c.Name)
		}
	}
}
