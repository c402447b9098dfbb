package colorfront_test

import (
	"testing"

	"github.com/llcevict/core/colorfront"
)

func TestOpenMissingDeviceDegradesSilently(t *testing.T) {
	c, err := colorfront.Open("/dev/this-does-not-exist-llcevict")
	if err != nil {
		t.Fatalf("Open on a missing device should not error, got: %v", err)
	}

	if c.Enabled() {
		t.Fatalf("Enabled() = true for a missing device, want false")
	}

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable on a disabled client should be a no-op, got: %v", err)
	}

	st, ok, err := c.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus on a disabled client should not error, got: %v", err)
	}

	if ok {
		t.Fatalf("ReadStatus on a disabled client returned ok=true, want false")
	}

	if st.TotalMiB != 0 || len(st.Order) != 0 {
		t.Fatalf("ReadStatus on a disabled client returned %+v, want zero value", st)
	}
}
