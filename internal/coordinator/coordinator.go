package coordinator

import (
	"context"
	"fmt"

	"matmr/internal/logger"
	"matmr/internal/matrix"
	"matmr/internal/partition"
	"matmr/internal/shuffle"
	"matmr/internal/transport"
	"matmr/internal/types"
)

// Master is rank 0. It assigns roles, feeds mappers their rows, shuffles
// mapper output to reducers by column, and assembles the product.
type Master struct {
	comm   transport.Comm
	plan   *partition.Plan
	router *shuffle.Router
	logger *logger.Logger
}

// NewMaster creates the orchestrator for one run
func NewMaster(comm transport.Comm, plan *partition.Plan, lg *logger.Logger) *Master {
	return &Master{
		comm:   comm,
		plan:   plan,
		router: shuffle.NewRouter(plan),
		logger: lg.With(map[string]interface{}{"rank": comm.Rank()}),
	}
}

// Run executes the whole protocol and returns the assembled product.
func (m *Master) Run(ctx context.Context) (*matrix.Matrix, error) {
	if err := m.AssignRoles(ctx); err != nil {
		return nil, err
	}

	if err := m.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("master: %w", err)
	}

	if err := m.SendRowRanges(ctx); err != nil {
		return nil, err
	}

	intermediate, err := m.CollectIntermediate(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.Shuffle(ctx, intermediate); err != nil {
		return nil, err
	}

	if err := m.SendColRanges(ctx); err != nil {
		return nil, err
	}

	return m.CollectResults(ctx)
}

// AssignRoles sends each worker its role, in rank order
func (m *Master) AssignRoles(ctx context.Context) error {
	for _, a := range m.plan.Assignments {
		if err := m.comm.Send(ctx, a.Rank, transport.AssignMsg(a.Role)); err != nil {
			return fmt.Errorf("failed to assign role to rank %d: %w", a.Rank, err)
		}
		m.logger.Info("Task %s assigned to process %d", a.Role, a.Rank)
	}
	return nil
}

// SendRowRanges sends every mapper its row block
func (m *Master) SendRowRanges(ctx context.Context) error {
	for _, a := range m.plan.Mappers() {
		if err := m.comm.Send(ctx, a.Rank, transport.RowsMsg(a.Rows)); err != nil {
			return fmt.Errorf("failed to send rows to mapper %d: %w", a.Rank, err)
		}
		m.logger.Info("Mapper %d assigned rows %d to %d", a.Rank, a.Rows.Start, a.Rows.End)
	}
	return nil
}

// CollectIntermediate receives each mapper's output in mapper-rank order.
func (m *Master) CollectIntermediate(ctx context.Context) ([]types.Record, error) {
	all := make([]types.Record, 0, m.plan.Size*m.plan.Size)
	for _, a := range m.plan.Mappers() {
		recs, err := transport.RecvRecords(ctx, m.comm, a.Rank, m.plan.MapOutputCount())
		if err != nil {
			return nil, fmt.Errorf("failed to collect output of mapper %d: %w", a.Rank, err)
		}
		for _, rec := range recs {
			if !a.Rows.Contains(rec.Row) {
				return nil, fmt.Errorf("%w: mapper %d emitted row %d outside [%d,%d)",
					transport.ErrProtocol, a.Rank, rec.Row, a.Rows.Start, a.Rows.End)
			}
		}
		all = append(all, recs...)
		m.logger.Debug("Collected %d records from mapper %d", len(recs), a.Rank)
	}
	return all, nil
}

// Shuffle routes intermediate records by column and forwards each bucket
// to its reducer.
func (m *Master) Shuffle(ctx context.Context, recs []types.Record) error {
	buckets, err := m.router.Route(recs)
	if err != nil {
		return fmt.Errorf("shuffle: %w", err)
	}
	for i, a := range m.plan.Reducers() {
		if err := transport.SendRecords(ctx, m.comm, a.Rank, buckets[i]); err != nil {
			return fmt.Errorf("failed to forward records to reducer %d: %w", a.Rank, err)
		}
		m.logger.Debug("Forwarded %d records to reducer %d", len(buckets[i]), a.Rank)
	}
	return nil
}

// SendColRanges sends every reducer its column block
func (m *Master) SendColRanges(ctx context.Context) error {
	for _, a := range m.plan.Reducers() {
		if err := m.comm.Send(ctx, a.Rank, transport.ColsMsg(a.Cols)); err != nil {
			return fmt.Errorf("failed to send cols to reducer %d: %w", a.Rank, err)
		}
		m.logger.Info("Reducer %d assigned cols %d to %d", a.Rank, a.Cols.Start, a.Cols.End)
	}
	return nil
}

// CollectResults receives each reducer's cells in reducer-rank order and
// writes them into C. Every cell must be written exactly once.
func (m *Master) CollectResults(ctx context.Context) (*matrix.Matrix, error) {
	n := m.plan.Size
	c := matrix.New(n)
	written := make([]bool, n*n)

	for _, a := range m.plan.Reducers() {
		recs, err := transport.RecvRecords(ctx, m.comm, a.Rank, m.plan.ReduceInputCount())
		if err != nil {
			return nil, fmt.Errorf("failed to collect results of reducer %d: %w", a.Rank, err)
		}
		for _, rec := range recs {
			if rec.Row < 0 || rec.Row >= n || !a.Cols.Contains(rec.Col) {
				return nil, fmt.Errorf("%w: reducer %d returned cell (%d,%d) outside its cols",
					transport.ErrProtocol, a.Rank, rec.Row, rec.Col)
			}
			idx := rec.Row*n + rec.Col
			if written[idx] {
				return nil, fmt.Errorf("%w: cell (%d,%d) returned twice", transport.ErrProtocol, rec.Row, rec.Col)
			}
			written[idx] = true
			c.Set(rec.Row, rec.Col, rec.Value)
		}
	}
	return c, nil
}
