package monitor_test

import (
	"testing"

	"github.com/llcevict/core/monitor"
)

func TestHotnessUsesRiseAlphaWhenIncreasing(t *testing.T) {
	h := monitor.NewHotness(0.2)

	h.Update(0.5)

	got := h.Update(0.9) // rising: expect rise alpha 0.85
	want := 0.85*0.9 + 0.15*0.5

	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Update(rising) = %v, want %v", got, want)
	}
}

func TestHotnessUsesFallAlphaWhenDecreasing(t *testing.T) {
	h := monitor.NewHotness(0.1)

	h.Update(0.9)

	got := h.Update(0.3)
	want := 0.1*0.3 + 0.9*0.9

	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Update(falling) = %v, want %v", got, want)
	}
}

func TestLevelQuantization(t *testing.T) {
	cases := []struct {
		rate float64
		want int
	}{
		{0.10, 0}, {0.39, 0}, {0.40, 1}, {0.64, 1}, {0.65, 2}, {0.84, 2}, {0.85, 3}, {0.99, 3},
	}

	for _, c := range cases {
		if got := monitor.Level(c.rate); got != c.want {
			t.Errorf("Level(%v) = %d, want %d", c.rate, got, c.want)
		}
	}
}

func TestLCASHysteresisRequiresThreeConsecutiveScans(t *testing.T) {
	l := monitor.NewLCAS(3)

	// Socket 0 hot, sockets 1,2 mixed so levels differ (not all-equal).
	levels := []int{3, 1, 0}

	order := l.Scan(levels)
	if order[0] == 2 {
		t.Fatalf("order changed on the first scan, want hysteresis to hold the initial order")
	}

	l.Scan(levels)
	order = l.Scan(levels)

	if order[0] != 2 {
		t.Fatalf("after 3 consecutive scans with socket 2 coldest, rank 0 = %d, want 2", order[0])
	}
}

func TestLCASNoPreferenceWhenAllSocketsSameLevel(t *testing.T) {
	l := monitor.NewLCAS(2)

	order := l.Scan([]int{2, 2})

	if order[0] != 2 {
		t.Fatalf("expected no-preference sentinel (numSockets=2) at key 0, got %v", order)
	}
}

func TestAdaptiveWaitDecrementsAfterTwoSaturatedRounds(t *testing.T) {
	a := monitor.NewAdaptiveWait(5000)

	a.Observe([]bool{true, true})
	w := a.Observe([]bool{true, true})

	if w != 4000 {
		t.Fatalf("wait after two saturated rounds = %d, want 4000", w)
	}
}

func TestAdaptiveWaitBouncesBackWhenAllCold(t *testing.T) {
	a := monitor.NewAdaptiveWait(5000)

	a.Observe([]bool{true, true})
	a.Observe([]bool{true, true})

	w := a.Observe([]bool{false, false})

	if w != 5000 {
		t.Fatalf("wait after all-cold round = %d, want baseline 5000", w)
	}
}

func TestHeatmapMonotonicity(t *testing.T) {
	const ways = 11

	cold := monitor.Sample{WaitUs: 0, EvictCount: map[int][]int{0: {0, 1, 0, 2, 1}}}
	hot := monitor.Sample{WaitUs: 7000, EvictCount: map[int][]int{0: {ways, ways, ways, 9, ways}}}

	if monitor.AverageEvictions(cold, 0) > monitor.AverageEvictions(hot, 0) {
		t.Fatalf("average evictions at w=0 (%v) > at w=7000 (%v), want <=",
			monitor.AverageEvictions(cold, 0), monitor.AverageEvictions(hot, 0))
	}

	points := monitor.HeatmapFromSamples([]monitor.Sample{cold, hot}, 0, ways)

	coldFullBucket := points[0].Buckets[ways]
	hotFullBucket := points[1].Buckets[ways]

	if hotFullBucket <= coldFullBucket {
		t.Fatalf("k=W bucket fraction at largest w (%v) <= at smallest w (%v), want greater",
			hotFullBucket, coldFullBucket)
	}
}

func TestRateVsWaitTakeoff(t *testing.T) {
	points := []monitor.WaitRatePoint{
		{WaitUs: 100, Rate: 0.02},
		{WaitUs: 200, Rate: 0.07},
		{WaitUs: 300, Rate: 0.15},
		{WaitUs: 400, Rate: 0.40},
	}

	w, ok := monitor.Takeoff(points)
	if !ok {
		t.Fatalf("Takeoff found no point above 10%%")
	}

	if w != 300 {
		t.Fatalf("Takeoff wait = %d, want 300 (first point with rate > 10%%)", w)
	}

	primeTimeUs := 150

	if w >= 3*primeTimeUs {
		t.Fatalf("takeoff wait %d not less than 3x prime time %d", w, 3*primeTimeUs)
	}
}

func TestRateVsWaitFromSamplesMatchesRate(t *testing.T) {
	samples := []monitor.Sample{
		{WaitUs: 0, EvictCount: map[int][]int{0: {0, 0}}},
		{WaitUs: 500, EvictCount: map[int][]int{0: {11, 11}}},
	}

	points := monitor.RateVsWaitFromSamples(samples, 0, 11)

	if points[0].Rate != 0 {
		t.Fatalf("points[0].Rate = %v, want 0", points[0].Rate)
	}

	if points[1].Rate != 1 {
		t.Fatalf("points[1].Rate = %v, want 1", points[1].Rate)
	}
}
