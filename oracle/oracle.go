// Package oracle implements the virtual-to-host-physical text protocol
// client of spec.md §6: a writer publishes a hex page-frame number, a
// reader receives "HPA=0xHEX PFN=0xHEX FLAGS=0xHEX". Used only for
// diagnostics; the device's absence degrades silently.
package oracle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const defaultDevicePath = "/dev/gpa_hpa"

// Translation is one parsed response line.
type Translation struct {
	HPA   uint64
	PFN   uint64
	Flags uint64
}

// Client talks to the gpa_hpa character device. A nil-ready Client (no
// device present) answers every Translate call with ok=false rather
// than an error, matching spec.md §6: "Absence disables debug output
// but not the build itself."
type Client struct {
	f       *os.File
	r       *bufio.Reader
	enabled bool
}

// Open opens the device at path (defaultDevicePath if empty). A missing
// device is not an error: the returned Client simply reports disabled.
func Open(path string) (*Client, error) {
	if path == "" {
		path = defaultDevicePath
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return &Client{enabled: false}, nil
		}

		return nil, fmt.Errorf("oracle: opening %s: %w", path, err)
	}

	return &Client{f: f, r: bufio.NewReader(f), enabled: true}, nil
}

// Enabled reports whether a real device is backing this client.
func (c *Client) Enabled() bool { return c.enabled }

// Close releases the underlying device handle, if any.
func (c *Client) Close() error {
	if !c.enabled {
		return nil
	}

	return c.f.Close()
}

// Translate publishes pfn (a guest page-frame number) and reads back the
// host translation. Returns ok=false when no device is attached.
func (c *Client) Translate(pfn uint64) (Translation, bool, error) {
	if !c.enabled {
		return Translation{}, false, nil
	}

	if _, err := fmt.Fprintf(c.f, "0x%x\n", pfn); err != nil {
		return Translation{}, false, fmt.Errorf("oracle: writing pfn: %w", err)
	}

	line, err := c.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Translation{}, false, fmt.Errorf("oracle: reading translation: %w", err)
	}

	t, perr := parseTranslation(line)
	if perr != nil {
		return Translation{}, false, fmt.Errorf("oracle: parsing %q: %w", strings.TrimSpace(line), perr)
	}

	return t, true, nil
}

// parseTranslation parses a line of the form
// "HPA=0xHEX PFN=0xHEX FLAGS=0xHEX".
func parseTranslation(line string) (Translation, error) {
	fields := strings.Fields(line)

	var t Translation

	seen := 0

	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}

		v, err := strconv.ParseUint(strings.TrimPrefix(kv[1], "0x"), 16, 64)
		if err != nil {
			return Translation{}, fmt.Errorf("parsing field %q: %w", f, err)
		}

		switch kv[0] {
		case "HPA":
			t.HPA = v
			seen++
		case "PFN":
			t.PFN = v
			seen++
		case "FLAGS":
			t.Flags = v
			seen++
		}
	}

	if seen != 3 {
		return Translation{}, fmt.Errorf("expected HPA/PFN/FLAGS fields, got %d", seen)
	}

	return t, nil
}
