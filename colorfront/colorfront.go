// Package colorfront implements the color-tagged allocator text protocol
// client of spec.md §6: command writes (enable/disable/clear/flush/
// order/hot/free/<PFN> <color>) and a fixed multiline status read.
package colorfront

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const defaultDevicePath = "/dev/vcolor_km"

// Status is the fixed multiline status the device reports on read: free
// and allocated counts per color, totals in MiB, the last writer, the
// hottest color, and the current order.
type Status struct {
	FreeByColor      map[int]int
	AllocatedByColor map[int]int
	TotalMiB         int
	LastWriter       string
	HottestColor     int
	Order            []int
}

// Client talks to the vcolor_km character device. Like oracle.Client, a
// missing device degrades to a disabled no-op client rather than an
// error.
type Client struct {
	f       *os.File
	r       *bufio.Reader
	enabled bool
}

// Open opens the device at path (defaultDevicePath if empty).
func Open(path string) (*Client, error) {
	if path == "" {
		path = defaultDevicePath
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return &Client{enabled: false}, nil
		}

		return nil, fmt.Errorf("colorfront: opening %s: %w", path, err)
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

func (c *Client) write(cmd string) error {
	if !c.enabled {
		return nil
	}

	if _, err := fmt.Fprintln(c.f, cmd); err != nil {
		return fmt.Errorf("colorfront: writing %q: %w", cmd, err)
	}

	return nil
}

// Enable turns on color tagging.
func (c *Client) Enable() error { return c.write("enable") }

// Disable turns off color tagging.
func (c *Client) Disable() error { return c.write("disable") }

// Clear resets all color accounting.
func (c *Client) Clear() error { return c.write("clear") }

// Flush forces any buffered allocator state to disk/registers.
func (c *Client) Flush() error { return c.write("flush") }

// Order publishes a color visitation order, e.g. the LCAS channel's
// coldest-first ranking.
func (c *Client) Order(colors []int) error {
	parts := make([]string, len(colors))
	for i, v := range colors {
		parts[i] = strconv.Itoa(v)
	}

	return c.write("order " + strings.Join(parts, " "))
}

// Hot marks color as the current hottest.
func (c *Client) Hot(color int) error { return c.write(fmt.Sprintf("hot %d", color)) }

// Free releases every page tagged with color.
func (c *Client) Free(color int) error { return c.write(fmt.Sprintf("free %d", color)) }

// Tag requests that pfn be tagged with color.
func (c *Client) Tag(pfn uint64, color int) error {
	return c.write(fmt.Sprintf("0x%x %d", pfn, color))
}

// ReadStatus reads back the device's fixed multiline status. A disabled
// client returns a zero-value Status and ok=false.
func (c *Client) ReadStatus() (Status, bool, error) {
	if !c.enabled {
		return Status{}, false, nil
	}

	st := Status{FreeByColor: map[int]int{}, AllocatedByColor: map[int]int{}}

	for {
		line, err := c.r.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if err != nil {
				break
			}

			continue
		}

		parseStatusLine(&st, trimmed)

		if err != nil {
			break
		}
	}

	return st, true, nil
}

// parseStatusLine parses one "key: value" status line into st. Unknown
// keys are ignored, matching the original's forward-compatible parser.
func parseStatusLine(st *Status, line string) {
	kv := strings.SplitN(line, ":", 2)
	if len(kv) != 2 {
		return
	}

	key := strings.TrimSpace(kv[0])
	val := strings.TrimSpace(kv[1])

	switch {
	case strings.HasPrefix(key, "free["):
		setColorMetric(st.FreeByColor, key, val)
	case strings.HasPrefix(key, "alloc["):
		setColorMetric(st.AllocatedByColor, key, val)
	case key == "total_mib":
		st.TotalMiB, _ = strconv.Atoi(val)
	case key == "last_writer":
		st.LastWriter = val
	case key == "hottest":
		st.HottestColor, _ = strconv.Atoi(val)
	case key == "order":
		st.Order = parseIntList(val)
	}
}

func setColorMetric(m map[int]int, key, val string) {
	start := strings.IndexByte(key, '[')
	end := strings.IndexByte(key, ']')

	if start < 0 || end < 0 || end <= start {
		return
	}

	color, err := strconv.Atoi(key[start+1 : end])
	if err != nil {
		return
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return
	}

	m[color] = n
}

func parseIntList(val string) []int {
	fields := strings.Fields(val)

	out := make([]int, 0, len(fields))

	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}

		out = append(out, n)
	}

	return out
}
