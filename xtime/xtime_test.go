package xtime_test

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/llcevict/core/xtime"
)

func TestTimerWarmupMonotone(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skipf("xtime requires amd64, got %s", runtime.GOARCH)
	}

	var x byte

	p := unsafe.Pointer(&x)

	// Two back-to-back accesses to the same warm address. Real threshold
	// comparisons depend on silicon this test may run under virtualized,
	// noisy timing, so this test only checks that the primitive runs
	// without panicking; it asserts nothing about the returned counts
	// (TimeMaccess itself returns 0 if the timer went backwards).
	c1 := xtime.TimeMaccess(p)
	c2 := xtime.TimeMaccess(p)

	_ = c1
	_ = c2
}

func TestTimerStartStopOrdering(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skipf("xtime requires amd64, got %s", runtime.GOARCH)
	}

	start := xtime.TimerStart()
	stop, _ := xtime.TimerStop()

	if stop < start {
		t.Fatalf("timer went backwards: start=%d stop=%d", start, stop)
	}
}
