package evset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/llcevict/core/arena"
	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/evset"
)

func l3Descriptor() cachegeom.Descriptor {
	return cachegeom.Descriptor{
		Level:    cachegeom.L3,
		LineSize: 64,
		Ways:     11,
		Sets:     20 * 2048,
		Slices:   20,
	}
}

func TestConfigBuilderDefaultsAndOverrides(t *testing.T) {
	target := l3Descriptor()

	cfg := evset.NewConfigBuilder(target).
		CandScale(6).
		Slack(3).
		Build()

	if cfg.CandScale != 6 {
		t.Fatalf("CandScale = %d, want 6", cfg.CandScale)
	}

	if cfg.Slack != 3 {
		t.Fatalf("Slack = %d, want 3", cfg.Slack)
	}

	if got, want := cfg.EvCap(), cfg.CapScaling*target.Ways; got != want {
		t.Fatalf("EvCap() = %d, want %d", got, want)
	}

	if got, want := cfg.ExpectedSize(), target.Ways+cfg.ExtraCong; got != want {
		t.Fatalf("ExpectedSize() = %d, want %d", got, want)
	}
}

func TestSetShiftSharesMetadataNotLines(t *testing.T) {
	target := l3Descriptor()
	cfg := evset.NewConfigBuilder(target).Build()

	orig := &evset.Set{
		Target:       target,
		Config:       cfg,
		TargetHandle: arena.Handle(5),
		Lines:        []arena.Handle{1, 2, 3},
		L2Color:      2,
	}

	shifted := orig.Shift(nil, arena.Handle(9))

	shifted.Lines[0] = 99

	if orig.Lines[0] == 99 {
		t.Fatalf("Shift must copy Lines independently, mutation leaked into original")
	}

	if shifted.Target != orig.Target || shifted.L2Color != orig.L2Color {
		t.Fatalf("Shift must share Target/L2Color metadata")
	}

	if shifted.TargetHandle != 9 {
		t.Fatalf("TargetHandle = %d, want 9", shifted.TargetHandle)
	}
}

func TestColorTableWriteOnceReadMany(t *testing.T) {
	tbl := evset.NewColorTable(2, 4, 3)

	if filled, total := tbl.Coverage(); filled != 0 || total != 24 {
		t.Fatalf("empty table coverage = %d/%d, want 0/24", filled, total)
	}

	set := &evset.Set{TargetHandle: 7, Lines: []arena.Handle{1, 2}, L2Color: 1}
	tbl.Put(0, 1, 0, set)

	if got := tbl.Get(0, 1, 0); got != set {
		t.Fatalf("Get after Put did not return the stored set")
	}

	if got := tbl.Get(0, 1, 1); got != nil {
		t.Fatalf("Get on an unfilled cell = %v, want nil", got)
	}

	if filled, _ := tbl.Coverage(); filled != 1 {
		t.Fatalf("coverage after one Put = %d, want 1", filled)
	}

	colorSets := tbl.ForEachColor(0, 1)
	if len(colorSets) != 1 || colorSets[0] != set {
		t.Fatalf("ForEachColor(0,1) = %v, want [set]", colorSets)
	}
}

func TestSaveLoadTableRoundTrip(t *testing.T) {
	tbl := evset.NewColorTable(1, 2, 2)

	tbl.Put(0, 0, 0, &evset.Set{
		TargetHandle: 3,
		Lines:        []arena.Handle{10, 11, 12},
		L2Color:      0,
		Target:       cachegeom.Descriptor{Ways: 11},
	})
	tbl.Put(0, 1, 1, &evset.Set{
		TargetHandle: 4,
		Lines:        []arena.Handle{20},
		L2Color:      1,
		Target:       cachegeom.Descriptor{Ways: 11},
	})

	path := filepath.Join(t.TempDir(), "table.gob")

	if err := evset.SaveTable(path, tbl); err != nil {
		t.Fatalf("SaveTable: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("SaveTable did not create %s: %v", path, err)
	}

	loaded, err := evset.LoadTable(path, 1, 2, 2)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	got := loaded.Get(0, 0, 0)
	if got == nil || got.TargetHandle != 3 || len(got.Lines) != 3 {
		t.Fatalf("loaded cell (0,0,0) = %+v, want TargetHandle=3 with 3 lines", got)
	}

	got2 := loaded.Get(0, 1, 1)
	if got2 == nil || got2.TargetHandle != 4 {
		t.Fatalf("loaded cell (0,1,1) = %+v, want TargetHandle=4", got2)
	}

	if filled, total := loaded.Coverage(); filled != 2 || total != 4 {
		t.Fatalf("loaded coverage = %d/%d, want 2/4", filled, total)
	}
}
