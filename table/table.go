package table

import (
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/utils"
)

type (
	Row struct {
		// The row number within the scan
		Num int64
		// The batch the row came from
		Batch int64

		// The list of column names, same order as ColVals
		ColNames []string
		// The list of column values, same order as ColNames
		ColVals []any `json:",omitempty"`
	}
)

// RowsFromRecords flattens scan batches into rows, numbering them in order.
func RowsFromRecords(recs []arrow.Record) []Row {
	var rows []Row
	var num int64
	for batch, rec := range recs {
		names := make([]string, rec.NumCols())
		for i := range names {
			names[i] = rec.ColumnName(i)
		}
		for r := 0; r < int(rec.NumRows()); r++ {
			vals := make([]any, rec.NumCols())
			for i := range vals {
				vals[i] = utils.ValueAt(rec.Column(i), r)
			}
			rows = append(rows, Row{
				Num:      num,
				Batch:    int64(batch),
				ColNames: names,
				ColVals:  vals,
			})
			num++
		}
	}
	return rows
}
