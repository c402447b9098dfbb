package helper_test

import (
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/llcevict/core/helper"
)

func newUnpinned(t *testing.T) *helper.Engine {
	t.Helper()

	e, err := helper.New(-1)
	if err != nil {
		t.Fatalf("helper.New: %v", err)
	}

	t.Cleanup(e.Stop)

	return e
}

func TestReadOneAndTimeOne(t *testing.T) {
	e := newUnpinned(t)

	var x byte

	p := unsafe.Pointer(&x)

	e.ReadOne(p)

	cycles := e.TimeOne(p)
	if cycles == 0 {
		t.Log("TimeOne returned 0 cycles (expected off amd64 or under heavy virtualization noise)")
	}
}

func TestTraverseDelegates(t *testing.T) {
	e := newUnpinned(t)

	called := false
	e.Traverse(func() { called = true })

	if !called {
		t.Fatalf("Traverse did not invoke the supplied function")
	}
}

func TestPinnedStart(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test since we are not root")
	}

	if runtime.GOOS != "linux" {
		t.Skipf("pinning requires linux, got %s", runtime.GOOS)
	}

	e, err := helper.New(0)
	if err != nil {
		t.Fatalf("helper.New(0): %v", err)
	}

	defer e.Stop()

	e.Repin(0)
}
