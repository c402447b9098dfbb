package orchestrator_test

import (
	"testing"

	"github.com/llcevict/core/orchestrator"
	"github.com/llcevict/core/topology"
)

func TestCoarseOffsetsBalancesWithinOne(t *testing.T) {
	assign := orchestrator.CoarseOffsets{NumOffsets: 10}.Assign(3)

	total := 0

	min, max := 1<<30, 0

	for _, units := range assign {
		total += len(units)

		if len(units) < min {
			min = len(units)
		}

		if len(units) > max {
			max = len(units)
		}
	}

	if total != 10 {
		t.Fatalf("total units = %d, want 10", total)
	}

	if max-min > 1 {
		t.Fatalf("per-pair totals differ by %d, want base +/- 1", max-min)
	}
}

func TestGranularCellsCoversCrossProduct(t *testing.T) {
	assign := orchestrator.GranularCells{NumOffsets: 4, NumColors: 3}.Assign(2)

	total := 0
	for _, units := range assign {
		total += len(units)
	}

	if total != 12 {
		t.Fatalf("total cells = %d, want 12 (4 offsets x 3 colors)", total)
	}
}

func TestSameSocketNonSMTPairsDistinctCPUs(t *testing.T) {
	topo := topology.NewFlat(4)

	pairs, err := orchestrator.SameSocketNonSMT{}.Pairs(2, topo)
	if err != nil {
		t.Fatalf("Pairs: %v", err)
	}

	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}

	seen := map[int]bool{}

	for _, p := range pairs {
		if p.Main == p.Helper {
			t.Fatalf("pair %+v has identical main/helper", p)
		}

		if seen[p.Main] || seen[p.Helper] {
			t.Fatalf("pair %+v reuses an already-assigned cpu", p)
		}

		seen[p.Main] = true
		seen[p.Helper] = true
	}
}

func TestStaticPairsRequiresEnoughEntries(t *testing.T) {
	s := orchestrator.Static{Fixed: []orchestrator.Pair{{Main: 0, Helper: 1}}}

	if _, err := s.Pairs(2, topology.View{}); err == nil {
		t.Fatalf("expected an error when the static pair list is too short")
	}
}
