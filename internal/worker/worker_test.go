package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"matmr/internal/logger"
	"matmr/internal/matrix"
	"matmr/internal/partition"
	"matmr/internal/transport"
	"matmr/internal/types"
)

func TestMapEmitsFullDotProducts(t *testing.T) {
	a := matrix.FromRows([][]int{{1, 2}, {3, 4}})
	b := matrix.FromRows([][]int{{5, 6}, {7, 8}})

	got := Map(a, b, types.RowRange{Start: 1, End: 2})
	want := []types.Record{{Row: 1, Col: 0, Value: 43}, {Row: 1, Col: 1, Value: 50}}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReduceSumsPerCell(t *testing.T) {
	cols := types.ColRange{Start: 2, End: 4}
	recs := []types.Record{
		{Row: 0, Col: 2, Value: 1},
		{Row: 0, Col: 2, Value: 4},
		{Row: 1, Col: 3, Value: 9},
	}
	out, err := Reduce(2, cols, recs)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	want := []types.Record{
		{Row: 0, Col: 2, Value: 5},
		{Row: 0, Col: 3, Value: 0},
		{Row: 1, Col: 2, Value: 0},
		{Row: 1, Col: 3, Value: 9},
	}
	if len(out) != len(want) {
		t.Fatalf("got %d records, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestReduceRejectsForeignColumn(t *testing.T) {
	_, err := Reduce(2, types.ColRange{Start: 0, End: 1}, []types.Record{{Row: 0, Col: 1, Value: 3}})
	if !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

// driveMaster plays rank 0 for a one-mapper, one-reducer plan.
func driveMaster(ctx context.Context, t *testing.T, comm transport.Comm, plan *partition.Plan) *matrix.Matrix {
	t.Helper()
	mapper, reducer := plan.Mappers()[0], plan.Reducers()[0]

	must := func(err error) {
		if err != nil {
			t.Fatalf("master: %v", err)
		}
	}
	must(comm.Send(ctx, mapper.Rank, transport.AssignMsg(types.Mapper)))
	must(comm.Send(ctx, reducer.Rank, transport.AssignMsg(types.Reducer)))
	must(comm.Barrier(ctx))
	must(comm.Send(ctx, mapper.Rank, transport.RowsMsg(mapper.Rows)))

	inter, err := transport.RecvRecords(ctx, comm, mapper.Rank, plan.MapOutputCount())
	must(err)
	must(transport.SendRecords(ctx, comm, reducer.Rank, inter))
	must(comm.Send(ctx, reducer.Rank, transport.ColsMsg(reducer.Cols)))

	results, err := transport.RecvRecords(ctx, comm, reducer.Rank, plan.ReduceInputCount())
	must(err)
	c := matrix.New(plan.Size)
	for _, r := range results {
		c.Set(r.Row, r.Col, r.Value)
	}
	return c
}

func TestWorkersRunBothRoles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plan, err := partition.New(2, 2)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	a := matrix.FromRows([][]int{{1, 2}, {3, 4}})
	b := matrix.FromRows([][]int{{5, 6}, {7, 8}})
	net := transport.NewNetwork(3, 0)

	workers := []*Worker{
		New(net.Endpoint(1), plan, a, b, logger.Discard()),
		New(net.Endpoint(2), plan, a, b, logger.Discard()),
	}
	errc := make(chan error, len(workers))
	for _, w := range workers {
		go func(w *Worker) { errc <- w.Run(ctx) }(w)
	}

	c := driveMaster(ctx, t, net.Endpoint(0), plan)
	for range workers {
		if err := <-errc; err != nil {
			t.Fatalf("worker: %v", err)
		}
	}

	if want := matrix.FromRows([][]int{{19, 22}, {43, 50}}); !c.Equal(want) {
		t.Fatalf("C = %v, want %v", c.Data, want.Data)
	}
	if workers[0].Role() != types.Mapper || workers[1].Role() != types.Reducer {
		t.Fatalf("roles = %v/%v", workers[0].Role(), workers[1].Role())
	}
	for _, w := range workers {
		if w.State() != Done {
			t.Fatalf("worker ended in state %s", w.State())
		}
	}
}

func TestWorkerRejectsRoleMismatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plan, _ := partition.New(2, 2)
	net := transport.NewNetwork(3, 1)
	m := matrix.Identity(2)
	w := New(net.Endpoint(1), plan, m, m, logger.Discard())

	net.Endpoint(0).Send(ctx, 1, transport.AssignMsg(types.Reducer))
	if err := w.Run(ctx); !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if w.State() != AwaitingRole {
		t.Fatalf("state = %s, want awaiting-role", w.State())
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	plan, _ := partition.New(2, 2)
	net := transport.NewNetwork(3, 0)
	m := matrix.Identity(2)
	w := New(net.Endpoint(2), plan, m, m, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestReduceRejectsInvertedRange(t *testing.T) {
	_, err := Reduce(2, types.ColRange{Start: 2, End: 0}, nil)
	if !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	_, err = Reduce(2, types.ColRange{Start: 0, End: 3}, nil)
	if !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol for range past the matrix", err)
	}
}

func TestReducerRejectsColsNotInPlan(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plan, _ := partition.New(2, 2)
	net := transport.NewNetwork(3, 16)
	m := matrix.Identity(2)
	w := New(net.Endpoint(2), plan, m, m, logger.Discard())

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	go net.Endpoint(1).Barrier(ctx)

	master := net.Endpoint(0)
	if err := master.Send(ctx, 2, transport.AssignMsg(types.Reducer)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := master.Barrier(ctx); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	recs := Map(m, m, types.RowRange{Start: 0, End: 2})
	if err := transport.SendRecords(ctx, master, 2, recs); err != nil {
		t.Fatalf("records: %v", err)
	}
	if err := master.Send(ctx, 2, transport.ColsMsg(types.ColRange{Start: 2, End: 0})); err != nil {
		t.Fatalf("cols: %v", err)
	}

	if err := <-errc; !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if w.State() != Reducing {
		t.Fatalf("state = %s, want reducing", w.State())
	}
}
