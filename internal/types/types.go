package types

import (
	"errors"
	"fmt"
)

// ErrConfig is the class of every error detected before any communication
// starts: bad arguments, too few workers, uneven partitions.
var ErrConfig = errors.New("configuration error")

// Role is the task a worker rank is assigned by the master.
type Role int

const (
	Mapper Role = iota + 1
	Reducer
)

func (r Role) String() string {
	switch r {
	case Mapper:
		return "Map"
	case Reducer:
		return "Reduce"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	return r == Mapper || r == Reducer
}

// RowRange is a half-open range of output rows owned by a mapper.
type RowRange struct {
	Start int
	End   int
}

func (r RowRange) Len() int { return r.End - r.Start }

func (r RowRange) Contains(row int) bool { return row >= r.Start && row < r.End }

// ColRange is a half-open range of output columns owned by a reducer.
type ColRange struct {
	Start int
	End   int
}

func (c ColRange) Len() int { return c.End - c.Start }

func (c ColRange) Contains(col int) bool { return col >= c.Start && col < c.End }

// WorkerAssignment is produced by the planner and consumed once by the worker.
type WorkerAssignment struct {
	Rank int
	Role Role
	Rows RowRange // mappers only
	Cols ColRange // reducers only
}

// Record is one (row, col, value) cell. Mappers emit intermediate records,
// reducers emit result records; the layout is the same.
type Record struct {
	Row   int
	Col   int
	Value int
}
