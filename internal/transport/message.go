package transport

import (
	"fmt"

	"matmr/internal/types"
)

// Kind tags the payload carried by a Message.
type Kind int

const (
	KindAssign Kind = iota + 1
	KindRows
	KindCols
	KindBatch
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindAssign:
		return "assign"
	case KindRows:
		return "rows"
	case KindCols:
		return "cols"
	case KindBatch:
		return "batch"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is the unit exchanged on a link. Only the field matching Kind is set.
type Message struct {
	Kind   Kind
	Role   types.Role
	Rows   types.RowRange
	Cols   types.ColRange
	Count  int
	Record types.Record
}

func AssignMsg(r types.Role) Message     { return Message{Kind: KindAssign, Role: r} }
func RowsMsg(r types.RowRange) Message   { return Message{Kind: KindRows, Rows: r} }
func ColsMsg(c types.ColRange) Message   { return Message{Kind: KindCols, Cols: c} }
func BatchMsg(n int) Message             { return Message{Kind: KindBatch, Count: n} }
func RecordMsg(rec types.Record) Message { return Message{Kind: KindRecord, Record: rec} }
