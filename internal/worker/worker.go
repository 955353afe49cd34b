// Package worker runs a non-master rank: it waits for a role from the
// master, then either maps a block of rows or reduces a block of columns.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"matmr/internal/logger"
	"matmr/internal/matrix"
	"matmr/internal/partition"
	"matmr/internal/transport"
	"matmr/internal/types"
)

// MasterRank is the rank every worker talks to.
const MasterRank = 0

type State int32

const (
	AwaitingRole State = iota
	Mapping
	Reducing
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingRole:
		return "awaiting-role"
	case Mapping:
		return "mapping"
	case Reducing:
		return "reducing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker holds read-only copies of both inputs; it only touches the slice
// its role needs.
type Worker struct {
	comm   transport.Comm
	plan   *partition.Plan
	a, b   *matrix.Matrix
	state  atomic.Int32
	role   types.Role
	logger *logger.Logger
}

func New(comm transport.Comm, plan *partition.Plan, a, b *matrix.Matrix, lg *logger.Logger) *Worker {
	return &Worker{
		comm:   comm,
		plan:   plan,
		a:      a,
		b:      b,
		logger: lg.With(map[string]interface{}{"rank": comm.Rank()}),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Role is the role received from the master, zero until then.
func (w *Worker) Role() types.Role {
	return w.role
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Debug("State: %s", s)
}

// Run drives the worker through AwaitingRole → Mapping|Reducing → Done.
func (w *Worker) Run(ctx context.Context) error {
	rank := w.comm.Rank()
	w.setState(AwaitingRole)

	msg, err := transport.Expect(ctx, w.comm, MasterRank, transport.KindAssign)
	if err != nil {
		return fmt.Errorf("rank %d awaiting role: %w", rank, err)
	}
	want, ok := w.plan.Assignment(rank)
	if !ok {
		return fmt.Errorf("rank %d has no assignment in plan", rank)
	}
	if !msg.Role.Valid() || msg.Role != want.Role {
		return fmt.Errorf("%w: rank %d assigned %s, plan says %s", transport.ErrProtocol, rank, msg.Role, want.Role)
	}
	w.role = msg.Role

	host, _ := os.Hostname()
	w.logger.Info("Process %d received task %s on %s", rank, w.role, host)

	if err := w.comm.Barrier(ctx); err != nil {
		return fmt.Errorf("rank %d: %w", rank, err)
	}

	switch w.role {
	case types.Mapper:
		w.setState(Mapping)
		err = w.runMapper(ctx)
	case types.Reducer:
		w.setState(Reducing)
		err = w.runReducer(ctx)
	}
	if err != nil {
		return fmt.Errorf("rank %d %s: %w", rank, w.role, err)
	}

	w.setState(Done)
	return nil
}

func (w *Worker) runMapper(ctx context.Context) error {
	msg, err := transport.Expect(ctx, w.comm, MasterRank, transport.KindRows)
	if err != nil {
		return err
	}
	rows := msg.Rows
	if want, _ := w.plan.Assignment(w.comm.Rank()); rows != want.Rows {
		return fmt.Errorf("%w: got rows [%d,%d), plan says [%d,%d)",
			transport.ErrProtocol, rows.Start, rows.End, want.Rows.Start, want.Rows.End)
	}

	w.logger.Info("Mapping rows [%d,%d)", rows.Start, rows.End)
	return transport.SendRecords(ctx, w.comm, MasterRank, Map(w.a, w.b, rows))
}

func (w *Worker) runReducer(ctx context.Context) error {
	recs, err := transport.RecvRecords(ctx, w.comm, MasterRank, w.plan.ReduceInputCount())
	if err != nil {
		return err
	}
	msg, err := transport.Expect(ctx, w.comm, MasterRank, transport.KindCols)
	if err != nil {
		return err
	}
	if want, _ := w.plan.Assignment(w.comm.Rank()); msg.Cols != want.Cols {
		return fmt.Errorf("%w: got cols [%d,%d), plan says [%d,%d)",
			transport.ErrProtocol, msg.Cols.Start, msg.Cols.End, want.Cols.Start, want.Cols.End)
	}

	w.logger.Info("Reducing %d records for cols [%d,%d)", len(recs), msg.Cols.Start, msg.Cols.End)
	out, err := Reduce(w.plan.Size, msg.Cols, recs)
	if err != nil {
		return err
	}
	return transport.SendRecords(ctx, w.comm, MasterRank, out)
}

// Map computes the full dot product for every cell in rows, row-major.
func Map(a, b *matrix.Matrix, rows types.RowRange) []types.Record {
	n := a.Size
	out := make([]types.Record, 0, rows.Len()*n)
	for i := rows.Start; i < rows.End; i++ {
		ai := a.Row(i)
		for j := 0; j < n; j++ {
			sum := 0
			for k := 0; k < n; k++ {
				sum += ai[k] * b.At(k, j)
			}
			out = append(out, types.Record{Row: i, Col: j, Value: sum})
		}
	}
	return out
}

// Reduce sums the records for each cell of rows [0,size) × cols and
// returns one record per cell, row-major. A record whose column is not in
// cols means the shuffle sent it to the wrong reducer.
func Reduce(size int, cols types.ColRange, recs []types.Record) ([]types.Record, error) {
	width := cols.Len()
	if cols.Start < 0 || width < 0 || cols.End > size {
		return nil, fmt.Errorf("%w: invalid column range [%d,%d)", transport.ErrProtocol, cols.Start, cols.End)
	}
	sums := make([]int, size*width)
	for _, rec := range recs {
		if !cols.Contains(rec.Col) || rec.Row < 0 || rec.Row >= size {
			return nil, fmt.Errorf("%w: record (%d,%d) outside cols [%d,%d)",
				transport.ErrProtocol, rec.Row, rec.Col, cols.Start, cols.End)
		}
		sums[rec.Row*width+rec.Col-cols.Start] += rec.Value
	}

	out := make([]types.Record, 0, size*width)
	for i := 0; i < size; i++ {
		for j := cols.Start; j < cols.End; j++ {
			out = append(out, types.Record{Row: i, Col: j, Value: sums[i*width+j-cols.Start]})
		}
	}
	return out, nil
}
