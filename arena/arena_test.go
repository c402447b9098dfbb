package arena_test

import (
	"runtime"
	"testing"

	"github.com/llcevict/core/arena"
)

func TestRefcountReturnsToZero(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("arena mmap requires linux, got %s", runtime.GOOS)
	}

	a, err := arena.New(4)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}

	v1 := a.View(0)
	v2 := a.View(64)

	if got := a.Refcount(); got != 2 {
		t.Fatalf("refcount after two views = %d, want 2", got)
	}

	if err := v1.Release(); err != nil {
		t.Fatalf("v1.Release: %v", err)
	}

	if got := a.Refcount(); got != 1 {
		t.Fatalf("refcount after one release = %d, want 1", got)
	}

	if err := v2.Release(); err != nil {
		t.Fatalf("v2.Release: %v", err)
	}

	if got := a.Refcount(); got != 0 {
		t.Fatalf("refcount after final release = %d, want 0", got)
	}

	// Second release of an already-released view is a no-op, not an error.
	if err := v2.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestViewSwapAndTruncate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("arena mmap requires linux, got %s", runtime.GOOS)
	}

	a, err := arena.New(8)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}

	defer func() {
		v := a.View(0)
		_ = v.Release()
	}()

	v := a.View(0)
	defer v.Release() //nolint:errcheck

	first, last := v.At(0), v.At(v.Len()-1)
	v.Swap(0, v.Len()-1)

	if v.At(0) != last || v.At(v.Len()-1) != first {
		t.Fatalf("Swap did not exchange positions 0 and len-1")
	}

	v.Truncate(3)
	if v.Len() != 3 {
		t.Fatalf("Truncate(3): Len() = %d, want 3", v.Len())
	}
}
