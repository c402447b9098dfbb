package report_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/llcevict/core/report"
)

func TestWriteDataFileCreatesDirAndHeader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	header := report.Header{
		Tool:       "evworkbench",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CPUFreqMHz: 2100,
		Params:     map[string]string{"wait_us": "5000"},
	}

	rows := sampleRows(t)

	if err := report.WriteDataFile(dir, "rate.dat", header, rows); err != nil {
		t.Fatalf("WriteDataFile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "rate.dat"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}

	content := string(data)

	if !strings.Contains(content, "# tool: evworkbench") {
		t.Fatalf("missing tool header, got:\n%s", content)
	}

	if !strings.Contains(content, "2026-01-02T03:04:05Z") {
		t.Fatalf("missing timestamp header, got:\n%s", content)
	}

	if !strings.Contains(content, "0\t0.5\n") {
		t.Fatalf("missing two-column row, got:\n%s", content)
	}

	if !strings.Contains(content, "1\t2\t3\n") {
		t.Fatalf("missing three-column row, got:\n%s", content)
	}
}

func sampleRows(t *testing.T) []report.Row {
	t.Helper()

	return []report.Row{
		{X: 0, Y: 0.5},
		{X: 1, Y: 2, Z: 3, HasZ: true},
	}
}
