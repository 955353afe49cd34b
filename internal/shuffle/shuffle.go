// Package shuffle routes mapper output to the reducer that owns each
// record's column.
package shuffle

import (
	"fmt"

	"matmr/internal/partition"
	"matmr/internal/types"
)

type Router struct {
	plan *partition.Plan
}

func NewRouter(plan *partition.Plan) *Router {
	return &Router{plan: plan}
}

// Target returns the reducer rank that owns col. The modulo only matters
// for plans that leave a remainder column block, which partition.New rejects.
func (r *Router) Target(col int) int {
	p := r.plan
	return p.NumMappers + (col/p.ColsPerReducer)%p.NumReducers + 1
}

// Route buckets records by target reducer, keeping the input order inside
// each bucket. Bucket i belongs to the i-th reducer (rank NumMappers+1+i).
func (r *Router) Route(recs []types.Record) ([][]types.Record, error) {
	p := r.plan
	buckets := make([][]types.Record, p.NumReducers)
	for i := range buckets {
		buckets[i] = make([]types.Record, 0, p.ReduceInputCount())
	}

	for _, rec := range recs {
		if rec.Col < 0 || rec.Col >= p.Size || rec.Row < 0 || rec.Row >= p.Size {
			return nil, fmt.Errorf("record (%d,%d) outside %dx%d matrix", rec.Row, rec.Col, p.Size, p.Size)
		}
		idx := r.Target(rec.Col) - p.NumMappers - 1
		buckets[idx] = append(buckets[idx], rec)
	}
	return buckets, nil
}
