package evset

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/llcevict/core/arena"
)

// ColorTable is spec.md §3's color-indexed set table:
// complex[page_offset][l2_color][slot] -> *Set. Write-once per cell,
// read-many; no global lock on the fast path (spec.md §4.G), guarded
// instead by one atomic.Pointer per cell.
type ColorTable struct {
	numOffsets int
	numColors  int
	slotsPerColor int

	cells [][][]atomic.Pointer[Set]
}

// NewColorTable allocates an empty table of the given shape.
func NewColorTable(numOffsets, numColors, slotsPerColor int) *ColorTable {
	t := &ColorTable{numOffsets: numOffsets, numColors: numColors, slotsPerColor: slotsPerColor}
	t.cells = make([][][]atomic.Pointer[Set], numOffsets)

	for o := range t.cells {
		t.cells[o] = make([][]atomic.Pointer[Set], numColors)
		for c := range t.cells[o] {
			t.cells[o][c] = make([]atomic.Pointer[Set], slotsPerColor)
		}
	}

	return t
}

// Put writes set into cell (offset, color, slot). Cells are write-once:
// a non-nil Put on an already-filled cell overwrites it — callers are
// expected to write each cell exactly once, per spec.md §4.G ("no two
// pairs write the same cell").
func (t *ColorTable) Put(offset, color, slot int, set *Set) {
	t.cells[offset][color][slot].Store(set)
}

// Get reads cell (offset, color, slot); nil means the cell was never
// filled (a failed build, per spec.md §4.F's partial-build semantics).
func (t *ColorTable) Get(offset, color, slot int) *Set {
	return t.cells[offset][color][slot].Load()
}

// Shape returns (numOffsets, numColors, slotsPerColor).
func (t *ColorTable) Shape() (int, int, int) { return t.numOffsets, t.numColors, t.slotsPerColor }

// ForEachColor returns every non-nil set at the given page offset for
// color, in slot order.
func (t *ColorTable) ForEachColor(offset, color int) []*Set {
	out := make([]*Set, 0, t.slotsPerColor)

	for slot := 0; slot < t.slotsPerColor; slot++ {
		if s := t.Get(offset, color, slot); s != nil {
			out = append(out, s)
		}
	}

	return out
}

// Coverage reports how many of the table's cells were successfully
// filled, spec.md §7's "coverage ratio" that callers consume after a
// partial-success parallel construction.
func (t *ColorTable) Coverage() (filled, total int) {
	total = t.numOffsets * t.numColors * t.slotsPerColor

	for o := range t.cells {
		for c := range t.cells[o] {
			for s := range t.cells[o][c] {
				if t.cells[o][c][s].Load() != nil {
					filled++
				}
			}
		}
	}

	return filled, total
}

// record is the gob-serializable projection of a Set, dropping the
// runtime-only View/Helper references per the original's save/load
// format (original_source/src/vset_ops.c), adapted from the framed
// message shape of migration/transport.go to a single gob-encoded file.
type record struct {
	Offset, Color, Slot int
	TargetHandle        int
	Lines               []int
	Ways                int
}

// SaveTable persists table to path as a sequence of gob-encoded records,
// one per filled cell. Supplemented from original_source/src/vset_ops.c:
// the original persists built sets so a separate monitoring run doesn't
// need to rebuild them; not named in spec.md's component table but a
// clear win to carry over.
func SaveTable(path string, t *ColorTable) error {
	var buf bytes.Buffer

	enc := gob.NewEncoder(&buf)

	for o := 0; o < t.numOffsets; o++ {
		for c := 0; c < t.numColors; c++ {
			for s := 0; s < t.slotsPerColor; s++ {
				set := t.Get(o, c, s)
				if set == nil {
					continue
				}

				lines := make([]int, len(set.Lines))
				for i, h := range set.Lines {
					lines[i] = int(h)
				}

				rec := record{
					Offset: o, Color: c, Slot: s,
					TargetHandle: int(set.TargetHandle),
					Lines:        lines,
					Ways:         set.Target.Ways,
				}

				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("evset: encoding cell (%d,%d,%d): %w", o, c, s, err)
				}
			}
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("evset: writing %s: %w", path, err)
	}

	return nil
}

// LoadTable reads a table previously written by SaveTable. The returned
// sets carry only Lines/TargetHandle/Target.Ways/L2Color — View and Helper are
// nil and must be reattached by the caller (e.g. a monitoring-only
// process that maps the same arena read-only) before the set can be
// used with llcbuild/l2filter's Tester.
func LoadTable(path string, numOffsets, numColors, slotsPerColor int) (*ColorTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evset: reading %s: %w", path, err)
	}

	t := NewColorTable(numOffsets, numColors, slotsPerColor)

	dec := gob.NewDecoder(bytes.NewReader(data))

	for {
		var rec record

		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("evset: decoding %s: %w", path, err)
		}

		lines := make([]arena.Handle, len(rec.Lines))
		for i, v := range rec.Lines {
			lines[i] = arena.Handle(v)
		}

		set := &Set{
			TargetHandle: arena.Handle(rec.TargetHandle),
			Lines:        lines,
			L2Color:      rec.Color,
		}
		set.Target.Ways = rec.Ways

		t.Put(rec.Offset, rec.Color, rec.Slot, set)
	}

	return t, nil
}
