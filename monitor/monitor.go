// Package monitor implements component H: prime/wait/probe occupancy
// rounds over a built evset.ColorTable, and the derived products —
// rate, heatmap, EWMA hotness, LCAS ordering, and adaptive wait.
package monitor

import (
	"time"

	"github.com/llcevict/core/evset"
	"github.com/llcevict/core/xtime"
)

// Sample is one prime/wait/probe round's raw result: evicted-line counts
// per filled set of the color (across every offset and slot), plus the
// requested wait.
type Sample struct {
	WaitUs     int
	EvictCount map[int][]int // color -> evicted-line count per set
}

// Round performs one prime/wait/probe round over table at the given
// color, per spec.md §4.H.
func Round(table *evset.ColorTable, color int, waitUs int, thresh uint64, primeRetries int) (Sample, error) {
	sets := collectColor(table, color)

	start := time.Now()

	for _, s := range sets {
		prime(s, thresh, primeRetries)
	}

	primeElapsed := time.Since(start)

	target := time.Duration(waitUs) * time.Microsecond
	if remaining := target - primeElapsed; remaining > 0 {
		busyWait(remaining)
	}

	counts := make([]int, len(sets))

	for i, s := range sets {
		counts[i] = probe(s, thresh)
	}

	return Sample{WaitUs: waitUs, EvictCount: map[int][]int{color: counts}}, nil
}

func collectColor(table *evset.ColorTable, color int) []*evset.Set {
	numOffsets, _, slots := table.Shape()

	var out []*evset.Set

	for o := 0; o < numOffsets; o++ {
		for s := 0; s < slots; s++ {
			if set := table.Get(o, color, s); set != nil {
				out = append(out, set)
			}
		}
	}

	return out
}

// prime flushes then traverses a set's lines until the full traversal
// reads below the target level's threshold, bounded by retries.
func prime(s *evset.Set, thresh uint64, retries int) {
	if s.View == nil {
		return
	}

	for _, h := range s.Lines {
		xtime.Flush(s.View.Addr(h), false)
	}

	for attempt := 0; attempt < maxInt(retries, 1); attempt++ {
		maxCycles := uint64(0)

		for _, h := range s.Lines {
			cycles := xtime.TimeMaccess(s.View.Addr(h))
			if cycles > maxCycles {
				maxCycles = cycles
			}
		}

		if maxCycles < thresh {
			return
		}
	}
}

// probe backward-traverses a set's lines, timing each with a retried
// rdtscp pairing, and counts how many evicted (spec.md §4.H's probe
// step). Samples spanning a logical-core switch are retried up to 5
// times.
func probe(s *evset.Set, thresh uint64) int {
	if s.View == nil {
		return 0
	}

	evicted := 0

	for i := len(s.Lines) - 1; i >= 0; i-- {
		addr := s.View.Addr(s.Lines[i])

		var cycles uint64

		for retry := 0; retry < 5; retry++ {
			start, aux0 := xtime.TimerStop()
			_ = *(*byte)(addr)
			stop, aux1 := xtime.TimerStop()

			if aux0 == aux1 {
				if stop >= start {
					cycles = stop - start
				}

				break
			}
		}

		if cycles >= thresh {
			evicted++
		}
	}

	return evicted
}

func busyWait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

// Rate computes evicted lines / (W * numSets) for one sample.
func Rate(sample Sample, color, ways int) float64 {
	counts, ok := sample.EvictCount[color]
	if !ok || len(counts) == 0 || ways <= 0 {
		return 0
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	return float64(total) / float64(ways*len(counts))
}

// WaitRatePoint is one point of a rate-vs-wait sweep: the wait used and
// the eviction rate observed at that wait, spec.md §4.H's "rate-vs-wait
// sweeps".
type WaitRatePoint struct {
	WaitUs int
	Rate   float64
}

// RateVsWait sweeps wait times from waitMin to waitMax (inclusive) in
// waitStep increments, running one Round per wait and recording the
// observed rate at each, spec.md §4.H's rate-vs-wait sweep.
func RateVsWait(table *evset.ColorTable, color int, thresh uint64, primeRetries, ways, waitMin, waitMax, waitStep int) ([]WaitRatePoint, error) {
	samples, err := sweep(table, color, thresh, primeRetries, waitMin, waitMax, waitStep)
	if err != nil {
		return nil, err
	}

	return RateVsWaitFromSamples(samples, color, ways), nil
}

// RateVsWaitFromSamples computes a rate-vs-wait sweep from already-
// collected samples, split out from RateVsWait so the sweep math can be
// tested without driving real prime/probe rounds.
func RateVsWaitFromSamples(samples []Sample, color, ways int) []WaitRatePoint {
	points := make([]WaitRatePoint, len(samples))

	for i, s := range samples {
		points[i] = WaitRatePoint{WaitUs: s.WaitUs, Rate: Rate(s, color, ways)}
	}

	return points
}

// Takeoff returns the smallest WaitUs among points whose rate exceeds
// 10%, spec.md §8 scenario 5's "rate-vs-wait takeoff" property. The
// second return is false if no point in points clears 10%.
func Takeoff(points []WaitRatePoint) (int, bool) {
	for _, p := range points {
		if p.Rate > 0.10 {
			return p.WaitUs, true
		}
	}

	return 0, false
}

// HeatmapPoint is one wait value's bucketed eviction-count distribution:
// Buckets[k] is the fraction of sets that reported exactly k evictions,
// for k in [0, ways], spec.md §4.H's "occupancy heatmap".
type HeatmapPoint struct {
	WaitUs  int
	Buckets []float64
}

// Heatmap sweeps wait times from waitMin to waitMax (inclusive) in
// waitStep increments, running one Round per wait and bucketing the
// resulting eviction counts, spec.md §4.H's occupancy heatmap.
func Heatmap(table *evset.ColorTable, color int, thresh uint64, primeRetries, ways, waitMin, waitMax, waitStep int) ([]HeatmapPoint, error) {
	samples, err := sweep(table, color, thresh, primeRetries, waitMin, waitMax, waitStep)
	if err != nil {
		return nil, err
	}

	return HeatmapFromSamples(samples, color, ways), nil
}

// HeatmapFromSamples buckets already-collected samples, split out from
// Heatmap so the bucketing math can be tested without driving real
// prime/probe rounds.
func HeatmapFromSamples(samples []Sample, color, ways int) []HeatmapPoint {
	points := make([]HeatmapPoint, len(samples))

	for i, s := range samples {
		points[i] = HeatmapPoint{WaitUs: s.WaitUs, Buckets: bucketFractions(s, color, ways)}
	}

	return points
}

// AverageEvictions returns the mean evictions-per-set for one sample's
// color, the quantity spec.md §8 scenario 4 compares across waits.
func AverageEvictions(sample Sample, color int) float64 {
	counts, ok := sample.EvictCount[color]
	if !ok || len(counts) == 0 {
		return 0
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	return float64(total) / float64(len(counts))
}

func bucketFractions(sample Sample, color, ways int) []float64 {
	buckets := make([]float64, ways+1)

	counts, ok := sample.EvictCount[color]
	if !ok || len(counts) == 0 {
		return buckets
	}

	for _, c := range counts {
		if c < 0 {
			c = 0
		}

		if c > ways {
			c = ways
		}

		buckets[c]++
	}

	for i := range buckets {
		buckets[i] /= float64(len(counts))
	}

	return buckets
}

func sweep(table *evset.ColorTable, color int, thresh uint64, primeRetries, waitMin, waitMax, waitStep int) ([]Sample, error) {
	if waitStep <= 0 {
		waitStep = 1
	}

	var samples []Sample

	for w := waitMin; w <= waitMax; w += waitStep {
		sample, err := Round(table, color, w, thresh, primeRetries)
		if err != nil {
			return nil, err
		}

		samples = append(samples, sample)
	}

	return samples, nil
}
