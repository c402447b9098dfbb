// Package xtime implements component B: a stable rdtsc-based interval
// timer and median-filtered per-level latency calibration.
package xtime

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/llcevict/core/cachegeom"
)

// TimerStart returns a monotone cycle count; fence + rdtsc.
func TimerStart() uint64 { return timerStart() }

// TimerStop returns a monotone cycle count and the logical-core auxiliary
// value (TSC_AUX, written by RDTSCP); rdtscp + fence.
func TimerStop() (cycles uint64, aux uint32) { return timerStop() }

// TimeMaccess fences, forces address computation, warms the timer, reads
// *p, and returns the elapsed cycles for that single load.
func TimeMaccess(p unsafe.Pointer) uint64 {
	_ = TimerStart() // warm-up read, discarded

	start := TimerStart()
	_ = loadByte(p)
	stop, _ := TimerStop()

	if stop < start {
		return 0
	}

	return stop - start
}

// Flush evicts the cache line containing p, preferring CLFLUSHOPT when
// the CPU supports it (original_source/src/cache_ops.c).
func Flush(p unsafe.Pointer, hasCLFlushOpt bool) {
	if hasCLFlushOpt {
		clflushopt(p)
	} else {
		clflush(p)
	}
}

// LatencyVector holds the median hit latencies and derived thresholds of
// spec.md §3.
type LatencyVector struct {
	L1   uint64
	L2   uint64
	L3   uint64
	DRAM uint64

	ThreshL1 uint64
	ThreshL2 uint64
	ThreshL3 uint64

	InterruptThresh uint64

	samples map[HistogramBucket][]uint64 // supplemented: original_source/src/lats.c histogram
}

// HistogramBucket names a calibration bucket for LatencyVector.Histogram.
type HistogramBucket int

const (
	HistL1 HistogramBucket = iota
	HistL2
	HistL3
	HistDRAM
)

// Histogram returns the accepted raw samples for bucket, supplemented
// from original_source/src/lats.c which prints a full histogram rather
// than just the median; diagnostic only, does not affect the
// calibration invariant.
func (v LatencyVector) Histogram(bucket HistogramBucket) []uint64 {
	return append([]uint64(nil), v.samples[bucket]...)
}

// CalibrateConfig tunes the calibration protocol.
type CalibrateConfig struct {
	Repetitions int // fixed number of repetitions per level
}

func defaultCalibrateConfig(cfg CalibrateConfig) CalibrateConfig {
	if cfg.Repetitions <= 0 {
		cfg.Repetitions = 4096
	}

	return cfg
}

// Calibrate runs the fixed-repetition, interrupt-aware latency
// calibration protocol of spec.md §4.B for L1, L2, L3, and DRAM.
func Calibrate(geo cachegeom.Geometry, cfg CalibrateConfig) (LatencyVector, error) {
	cfg = defaultCalibrateConfig(cfg)

	samples := make(map[HistogramBucket][]uint64, 4)

	l1Samples, l1, err := medianLatency(64, cfg.Repetitions, 0)
	if err != nil {
		return LatencyVector{}, fmt.Errorf("xtime: calibrating L1: %w", err)
	}

	samples[HistL1] = l1Samples

	l2Buf := geo.L2.Ways * geo.L2.Sets * geo.L2.LineSize * 2
	l2Samples, l2, err := medianLatency(l2Buf, cfg.Repetitions, 5*l1)
	if err != nil {
		return LatencyVector{}, fmt.Errorf("xtime: calibrating L2: %w", err)
	}

	samples[HistL2] = l2Samples

	l3Buf := geo.L3.Ways * (geo.L3.Sets / maxInt(geo.L3.Slices, 1)) * geo.L3.LineSize * geo.L3.Slices * 2
	l3Samples, l3, err := medianLatency(l3Buf, cfg.Repetitions, 5*l2)
	if err != nil {
		return LatencyVector{}, fmt.Errorf("xtime: calibrating L3: %w", err)
	}

	samples[HistL3] = l3Samples

	dramBuf := l3Buf * 8

	dramSamples, dram, err := medianLatency(dramBuf, cfg.Repetitions, 5*l3)
	if err != nil {
		return LatencyVector{}, fmt.Errorf("xtime: calibrating DRAM: %w", err)
	}

	samples[HistDRAM] = dramSamples

	// Fallback corrections, spec.md §4.B.
	if l2 < (l1*12)/10 {
		l2 = (l1 * 12) / 10
	}

	if l3 < (l2*18)/10 {
		l3 = (l2 * 18) / 10
	}

	interruptThresh := 5 * dram

	v := LatencyVector{
		L1:              l1,
		L2:              l2,
		L3:              l3,
		DRAM:            dram,
		ThreshL1:        (l1 + l2) / 2,
		ThreshL2:        (l2 + l3) / 2,
		InterruptThresh: interruptThresh,
		samples:         samples,
	}

	threshL3 := (l3 + dram) / 2
	if cap := 2 * l3; threshL3 > cap {
		threshL3 = cap // spec.md §4.B: capped when extreme DRAM latencies would overshoot
	}

	v.ThreshL3 = threshL3

	if v.L3 >= (v.DRAM*8)/10 {
		return v, fmt.Errorf("xtime: lat_L3 %d not sufficiently below lat_dram %d (need < 0.8x)", v.L3, v.DRAM)
	}

	return v, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

// medianLatency allocates a private buffer of at least bufBytes, walks it
// with a page-stride pattern to pre-warm the TLB without
// self-interference, and returns the median of accepted trials. Trials
// whose TimerStop aux value differs from the paired earlier read are
// discarded (context-switch contamination); so are trials above
// rejectAbove when rejectAbove > 0.
func medianLatency(bufBytes, repetitions int, rejectAbove uint64) (samples []uint64, med uint64, err error) {
	if bufBytes < 4096 {
		bufBytes = 4096
	}

	buf := make([]byte, bufBytes)
	pageStride := 4096
	nPages := bufBytes / pageStride

	if nPages == 0 {
		nPages = 1
	}

	samples = make([]uint64, 0, repetitions)

	for i := 0; i < repetitions; i++ {
		off := (i % nPages) * pageStride
		if off >= len(buf) {
			off = 0
		}

		p := unsafe.Pointer(&buf[off])

		// Two rdtscp reads bracket the measurement; a mismatched aux
		// (logical-core id) between them means the trial ran across a
		// context switch and is discarded, per spec.md §4.B.
		start, aux0 := TimerStop()
		_ = loadByte(p)
		stop, aux1 := TimerStop()

		if aux0 != aux1 {
			continue
		}

		if stop < start {
			continue
		}

		cycles := stop - start
		if rejectAbove > 0 && cycles > rejectAbove {
			continue
		}

		samples = append(samples, cycles)
	}

	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("xtime: no accepted samples out of %d repetitions", repetitions)
	}

	return samples, median(samples), nil
}

func median(xs []uint64) uint64 {
	sorted := append([]uint64(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}
