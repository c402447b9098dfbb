// Package report implements spec.md §6's filesystem output: header-
// commented text data files with a two-or-three column numeric body,
// written under an auto-created ./data/ directory.
package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Header carries the fields every data file's comment block names:
// tool name, timestamp, CPU frequency, and free-form parameters.
type Header struct {
	Tool      string
	Timestamp time.Time
	CPUFreqMHz float64
	Params    map[string]string
}

// Row is one line of the numeric body: two or three columns.
type Row struct {
	X, Y, Z float64
	HasZ    bool
}

// WriteDataFile writes header as commented lines followed by rows as a
// two-or-three column numeric body, creating dir (default "./data") if
// it does not exist. name should not include a directory component.
func WriteDataFile(dir, name string, header Header, rows []Row) error {
	if dir == "" {
		dir = "./data"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if err := writeHeader(w, header); err != nil {
		return fmt.Errorf("report: writing header to %s: %w", path, err)
	}

	for _, r := range rows {
		if r.HasZ {
			fmt.Fprintf(w, "%g\t%g\t%g\n", r.X, r.Y, r.Z)
		} else {
			fmt.Fprintf(w, "%g\t%g\n", r.X, r.Y)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("report: flushing %s: %w", path, err)
	}

	return nil
}

func writeHeader(w *bufio.Writer, h Header) error {
	if _, err := fmt.Fprintf(w, "# tool: %s\n", h.Tool); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "# timestamp: %s\n", h.Timestamp.Format(time.RFC3339)); err != nil {
		return err
	}

	if h.CPUFreqMHz > 0 {
		if _, err := fmt.Fprintf(w, "# cpu_freq_mhz: %g\n", h.CPUFreqMHz); err != nil {
			return err
		}
	}

	for k, v := range h.Params {
		if _, err := fmt.Fprintf(w, "# %s: %s\n", k, v); err != nil {
			return err
		}
	}

	return nil
}
