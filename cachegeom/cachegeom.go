// Package cachegeom implements component A: it queries the CPU's cache
// descriptor for L1-D, L2, and L3 and derives the set-index-bit
// accounting that the rest of the pipeline depends on.
package cachegeom

import (
	"errors"
	"fmt"
)

// ErrNegativeUnknownSIB is returned when a level's unknown set-index-bit
// count would be negative, which spec.md §3 treats as fatal.
var ErrNegativeUnknownSIB = errors.New("cachegeom: negative unknown_sib")

// Level identifies a cache level in the hierarchy.
type Level int

const (
	L1 Level = iota
	L2
	L3
)

func (l Level) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// sPerSliceSkylakeXeon is the ONE_SLICE_SETS platform constant for
// Skylake-Xeon-class 20-slice LLCs. DESIGN NOTES §9 open question (a):
// this is platform data with no runtime verification, not an invariant.
const sPerSliceSkylakeXeon = 2048

// Descriptor describes one cache level.
type Descriptor struct {
	Level Level

	LineSize int // cl, bytes
	Ways     int // W
	Sets     int // S, total across slices for L3
	Slices   int // N_slice, 1 for L1/L2

	LineBits  int // b_l
	SetBits   int // b_s
	UnknownSIB int // b_l + b_s - 12

	AutoDetectedSlices bool // true when Slices came from sPerSliceSkylakeXeon, not CPUID
	HasCLFlushOpt      bool // supplemented from original_source/cache_ops.c: runtime feature check
}

// Geometry is the trio of descriptors the rest of the pipeline consumes.
type Geometry struct {
	L1 Descriptor
	L2 Descriptor
	L3 Descriptor
}

// Config overrides auto-detection. A zero Config uses pure CPUID detection.
type Config struct {
	// SlicesOverride, when positive, replaces sPerSliceSkylakeXeon as the
	// number of L3 sets per slice, for platforms that aren't 20-slice
	// Skylake-Xeon parts.
	SlicesOverride int
}

// log2Floor returns floor(log2(n)) for n > 0, supplemented from
// original_source/include/bitwise.h.
func log2Floor(n int) int {
	b := 0
	for n > 1 {
		n >>= 1
		b++
	}

	return b
}

// nextPow2 rounds n up to the next power of two, supplemented from
// original_source/include/bitwise.h. Nothing in the module calls it;
// arena.ComputeArenaPages does not round to a power of two.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}

	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

// deterministicCacheParams reads CPUID leaf 4 at the given subleaf and
// decodes the deterministic cache parameters sub-fields: cache type, line
// size, ways, partitions, sets.
func deterministicCacheParams(subleaf uint32) (cacheType int, ways, lineSize, sets int, ok bool) {
	eax, ebx, ecx, _ := cpuidLeaf(4, subleaf)

	cacheType = int(eax & 0x1f)
	if cacheType == 0 {
		return 0, 0, 0, 0, false
	}

	ways = int((ebx>>22)&0x3ff) + 1
	partitions := int((ebx>>12)&0x3ff) + 1
	lineSize = int(ebx&0xfff) + 1
	sets = int(ecx) + 1

	return cacheType, ways * partitions, lineSize, sets, true
}

// hasCLFlushOpt checks CPUID.(EAX=7,ECX=0):EBX.CLFLUSHOPT[bit 23],
// supplemented from original_source/src/cache_ops.c.
func hasCLFlushOpt() bool {
	_, ebx, _, _ := cpuidLeaf(7, 0)

	return ebx&(1<<23) != 0
}

// Probe queries the CPU for L1-D, L2, and L3 geometry. It returns
// ErrNegativeUnknownSIB if any level's unknown_sib would be negative,
// matching spec.md §4.A's fatal-on-detection-failure rule.
func Probe(cfg Config) (Geometry, error) {
	clflushopt := hasCLFlushOpt()

	var g Geometry

	levels := []struct {
		lvl     Level
		subleaf uint32
		dst     *Descriptor
	}{
		{L1, 0, &g.L1},
		{L2, 2, &g.L2},
		{L3, 3, &g.L3},
	}

	for _, lv := range levels {
		_, ways, lineSize, sets, ok := deterministicCacheParams(lv.subleaf)
		if !ok {
			// CPUID leaf 4 unsupported/virtualized away: fall back to
			// conservative Xeon Scalable-class defaults so the pipeline
			// can still run under a hypervisor that doesn't forward the
			// leaf. The Descriptor does not record that these defaults
			// were used.
			ways, lineSize, sets = fallbackParams(lv.lvl)
		}

		slices := 1
		autoDetected := false

		if lv.lvl == L3 {
			perSlice := sPerSliceSkylakeXeon
			if cfg.SlicesOverride > 0 {
				perSlice = cfg.SlicesOverride
			} else {
				autoDetected = true
			}

			if perSlice <= 0 || sets%perSlice != 0 {
				slices = 1
			} else {
				slices = sets / perSlice
			}
		}

		d := Descriptor{
			Level:              lv.lvl,
			LineSize:           lineSize,
			Ways:               ways,
			Sets:               sets,
			Slices:             slices,
			LineBits:           log2Floor(lineSize),
			AutoDetectedSlices: autoDetected,
			HasCLFlushOpt:      clflushopt,
		}

		setsPerSlice := sets
		if slices > 0 {
			setsPerSlice = sets / slices
		}

		d.SetBits = log2Floor(setsPerSlice)
		d.UnknownSIB = d.LineBits + d.SetBits - 12

		if d.UnknownSIB < 0 {
			return g, fmt.Errorf("cachegeom: level %s: %w (line_bits=%d set_bits=%d)",
				lv.lvl, ErrNegativeUnknownSIB, d.LineBits, d.SetBits)
		}

		*lv.dst = d
	}

	return g, nil
}

// fallbackParams supplies Xeon Scalable-class defaults when CPUID leaf 4
// is not forwarded by the hypervisor (common inside guest VMs, which is
// the deployment target per spec.md §1).
func fallbackParams(lvl Level) (ways, lineSize, sets int) {
	switch lvl {
	case L1:
		return 8, 64, 64
	case L2:
		return 16, 64, 1024
	case L3:
		return 11, 64, 20 * 2048
	default:
		return 8, 64, 64
	}
}
