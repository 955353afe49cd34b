package shuffle

import (
	"testing"

	"matmr/internal/partition"
	"matmr/internal/types"
)

func allCells(n int) []types.Record {
	recs := make([]types.Record, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			recs = append(recs, types.Record{Row: i, Col: j, Value: i*n + j})
		}
	}
	return recs
}

func TestTargetOwnsColumn(t *testing.T) {
	configs := []struct{ w, n int }{
		{2, 2}, {3, 2}, {4, 4}, {5, 6}, {6, 8}, {9, 12},
	}
	for _, c := range configs {
		plan, err := partition.New(c.w, c.n)
		if err != nil {
			t.Fatalf("plan(%d,%d): %v", c.w, c.n, err)
		}
		r := NewRouter(plan)
		for col := 0; col < c.n; col++ {
			rank := r.Target(col)
			a, ok := plan.Assignment(rank)
			if !ok || a.Role != types.Reducer {
				t.Fatalf("w=%d n=%d col=%d routed to non-reducer rank %d", c.w, c.n, col, rank)
			}
			if !a.Cols.Contains(col) {
				t.Fatalf("w=%d n=%d col=%d routed to rank %d owning %+v", c.w, c.n, col, rank, a.Cols)
			}
		}
	}
}

func TestRouteDeliversEachRecordOnce(t *testing.T) {
	plan, err := partition.New(6, 8)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	buckets, err := NewRouter(plan).Route(allCells(8))
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	seen := make(map[[2]int]int)
	for i, b := range buckets {
		if len(b) != plan.ReduceInputCount() {
			t.Fatalf("bucket %d has %d records, want %d", i, len(b), plan.ReduceInputCount())
		}
		cols := plan.Reducers()[i].Cols
		for _, rec := range b {
			if !cols.Contains(rec.Col) {
				t.Fatalf("bucket %d got col %d outside %+v", i, rec.Col, cols)
			}
			seen[[2]int{rec.Row, rec.Col}]++
		}
	}
	if len(seen) != 64 {
		t.Fatalf("saw %d distinct cells, want 64", len(seen))
	}
	for cell, n := range seen {
		if n != 1 {
			t.Fatalf("cell %v routed %d times", cell, n)
		}
	}
}

func TestRouteKeepsOrder(t *testing.T) {
	plan, _ := partition.New(4, 4)
	buckets, err := NewRouter(plan).Route(allCells(4))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	first := buckets[0]
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.Row > cur.Row || (prev.Row == cur.Row && prev.Col >= cur.Col) {
			t.Fatalf("bucket out of input order at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestRouteRejectsOutOfRange(t *testing.T) {
	plan, _ := partition.New(3, 2)
	if _, err := NewRouter(plan).Route([]types.Record{{Row: 0, Col: 2}}); err == nil {
		t.Fatalf("expected error for column outside matrix")
	}
}
