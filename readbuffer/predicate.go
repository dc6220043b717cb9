package readbuffer

import (
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/utils"
)

// TimeColumn is the column a TimeRange applies to.
const TimeColumn = "time"

type (
	Op string

	// BinaryExpr compares a column with a literal of kind string, float64,
	// int64 or bool.
	BinaryExpr struct {
		Column  string
		Op      Op
		Literal any
	}

	// TimeRange is [Start, End) over TimeColumn.
	TimeRange struct {
		Start int64
		End   int64
	}

	// Predicate is the read buffer's filter. The zero value matches every row.
	Predicate struct {
		// Tables restricts TableNames, nil means any
		Tables []string
		Exprs  []BinaryExpr
		Range  *TimeRange
	}

	// ColumnSelection of All returns columns sorted by name.
	ColumnSelection struct {
		All     bool
		Columns []string
	}
)

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

func (p Predicate) IsEmpty() bool {
	return p.Tables == nil && len(p.Exprs) == 0 && p.Range == nil
}

func (p Predicate) includesTable(name string) bool {
	return p.Tables == nil || utils.Contains(p.Tables, name)
}

func (e BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %v", e.Column, e.Op, e.Literal)
}

func (e BinaryExpr) eval(v any) bool {
	if v == nil {
		return false
	}
	cmp, err := utils.CompareValues(v, e.Literal)
	if err != nil {
		return false
	}
	switch e.Op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	default:
		return false
	}
}

// rowMask evaluates p over rec. ok is false when rec lacks a column p needs,
// in which case no row can match.
func (p Predicate) rowMask(rec arrow.Record) (mask []bool, matched int, ok bool) {
	schema := rec.Schema()
	exprCols := make([]arrow.Array, len(p.Exprs))
	for i, e := range p.Exprs {
		idx := schema.FieldIndices(e.Column)
		if len(idx) == 0 {
			return nil, 0, false
		}
		exprCols[i] = rec.Column(idx[0])
	}
	var timeCol arrow.Array
	if p.Range != nil {
		idx := schema.FieldIndices(TimeColumn)
		if len(idx) == 0 {
			return nil, 0, false
		}
		timeCol = rec.Column(idx[0])
	}

	mask = make([]bool, rec.NumRows())
Rows:
	for row := range mask {
		if timeCol != nil {
			v := utils.ValueAt(timeCol, row)
			if v == nil {
				continue
			}
			lo, err := utils.CompareValues(v, p.Range.Start)
			if err != nil || lo < 0 {
				continue
			}
			hi, err := utils.CompareValues(v, p.Range.End)
			if err != nil || hi >= 0 {
				continue
			}
		}
		for i, e := range p.Exprs {
			if !e.eval(utils.ValueAt(exprCols[i], row)) {
				continue Rows
			}
		}
		mask[row] = true
		matched++
	}
	return mask, matched, true
}
