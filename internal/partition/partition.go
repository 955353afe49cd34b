// Package partition splits a worker pool into mappers and reducers and
// hands each one a contiguous block of output rows or columns.
package partition

import (
	"fmt"

	"matmr/internal/types"
)

// MinMatrixSize is the smallest accepted matrix dimension.
const MinMatrixSize = 2

var (
	ErrMatrixSize    = fmt.Errorf("%w: matrix size must be at least %d", types.ErrConfig, MinMatrixSize)
	ErrTooFewWorkers = fmt.Errorf("%w: too few workers for at least one mapper and one reducer", types.ErrConfig)
	ErrUneven        = fmt.Errorf("%w: matrix size not divisible by worker groups", types.ErrConfig)
)

// Plan is the assignment table for one run. Rank 0 is the master; worker
// ranks are 1..Workers, mappers first.
type Plan struct {
	Workers        int
	Size           int
	NumMappers     int
	NumReducers    int
	RowsPerMapper  int
	ColsPerReducer int
	Assignments    []types.WorkerAssignment
}

// Split returns the mapper/reducer counts for a pool of w workers.
func Split(w int) (mappers, reducers int) {
	mappers = w * 2 / 3
	return mappers, w - mappers
}

// New computes the plan for w workers and an n×n matrix. Configurations
// that would drop rows or columns are rejected rather than rounded.
func New(w, n int) (*Plan, error) {
	if n < MinMatrixSize {
		return nil, fmt.Errorf("%w (got %d)", ErrMatrixSize, n)
	}
	mappers, reducers := Split(w)
	if mappers < 1 || reducers < 1 {
		return nil, fmt.Errorf("%w (workers=%d mappers=%d reducers=%d)", ErrTooFewWorkers, w, mappers, reducers)
	}
	if n%mappers != 0 {
		return nil, fmt.Errorf("%w: %d rows over %d mappers", ErrUneven, n, mappers)
	}
	if n%reducers != 0 {
		return nil, fmt.Errorf("%w: %d columns over %d reducers", ErrUneven, n, reducers)
	}

	p := &Plan{
		Workers:        w,
		Size:           n,
		NumMappers:     mappers,
		NumReducers:    reducers,
		RowsPerMapper:  n / mappers,
		ColsPerReducer: n / reducers,
		Assignments:    make([]types.WorkerAssignment, 0, w),
	}

	for i := 1; i <= mappers; i++ {
		p.Assignments = append(p.Assignments, types.WorkerAssignment{
			Rank: i,
			Role: types.Mapper,
			Rows: types.RowRange{Start: (i - 1) * p.RowsPerMapper, End: i * p.RowsPerMapper},
		})
	}
	for j := 1; j <= reducers; j++ {
		p.Assignments = append(p.Assignments, types.WorkerAssignment{
			Rank: mappers + j,
			Role: types.Reducer,
			Cols: types.ColRange{Start: (j - 1) * p.ColsPerReducer, End: j * p.ColsPerReducer},
		})
	}
	return p, nil
}

// Assignment returns the entry for a worker rank.
func (p *Plan) Assignment(rank int) (types.WorkerAssignment, bool) {
	if rank < 1 || rank > len(p.Assignments) {
		return types.WorkerAssignment{}, false
	}
	return p.Assignments[rank-1], true
}

// Mappers returns the mapper assignments in rank order.
func (p *Plan) Mappers() []types.WorkerAssignment {
	return p.Assignments[:p.NumMappers]
}

// Reducers returns the reducer assignments in rank order.
func (p *Plan) Reducers() []types.WorkerAssignment {
	return p.Assignments[p.NumMappers:]
}

// MapOutputCount is the number of records every mapper emits.
func (p *Plan) MapOutputCount() int {
	return p.RowsPerMapper * p.Size
}

// ReduceInputCount is the number of records every reducer receives and
// also the number it returns.
func (p *Plan) ReduceInputCount() int {
	return p.Size * p.ColsPerReducer
}
