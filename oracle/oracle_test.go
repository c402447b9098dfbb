package oracle_test

import (
	"testing"

	"github.com/llcevict/core/oracle"
)

func TestOpenMissingDeviceDegradesSilently(t *testing.T) {
	c, err := oracle.Open("/dev/this-does-not-exist-llcevict")
	if err != nil {
		t.Fatalf("Open on a missing device should not error, got: %v", err)
	}

	if c.Enabled() {
		t.Fatalf("Client.Enabled() = true for a missing device, want false")
	}

	tr, ok, err := c.Translate(0x1234)
	if err != nil {
		t.Fatalf("Translate on a disabled client should not error, got: %v", err)
	}

	if ok {
		t.Fatalf("Translate on a disabled client returned ok=true, want false")
	}

	if tr != (oracle.Translation{}) {
		t.Fatalf("Translate on a disabled client returned %+v, want zero value", tr)
	}
}
