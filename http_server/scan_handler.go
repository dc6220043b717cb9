package http_server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/table"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/rs/zerolog"
)

type (
	ScanFilter struct {
		Column string       `validate:"required"`
		Op     predicate.Op `validate:"required"`
		Value  any
	}

	ScanReqBody struct {
		// Columns to return, empty means all columns in name order
		Columns []string
		Filters []ScanFilter `validate:"dive"`
		// Start and End bound the time column as [Start, End)
		Start *int64
		End   *int64
		// Max rows per batch, defaults to SCAN_BATCH_SIZE
		BatchSize *int `validate:"omitempty,min=0"`
	}

	ScanRes struct {
		QueryID string
		Rows    []table.Row
		TimeMS  int64
	}
)

func (s *HTTPServer) ScanTable(c *CustomContext) error {
	var reqBody ScanReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	queryID := utils.GenQueryID()
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()
	ctx = context.WithValue(ctx, gologger.QueryIDKey, queryID)
	logger := zerolog.Ctx(ctx).With().Str("queryID", queryID).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	tableName := c.Param("table")

	filters, err := scanFilters(reqBody)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	provider, err := s.DB.TableProvider(ctx, tableName)
	if err != nil {
		return c.DBError(err, "error getting table provider")
	}

	// filter columns are scanned too, then dropped from the rows
	var projection []int
	if len(reqBody.Columns) > 0 {
		schema := provider.Schema()
		wanted := append(append([]string{}, reqBody.Columns...), filterColumns(filters)...)
		for _, name := range wanted {
			idx := schema.FieldIndices(name)
			if len(idx) == 0 {
				return c.String(http.StatusBadRequest, fmt.Sprintf("column %s not found in table %s", name, tableName))
			}
			projection = utils.AppendUnique(projection, idx[0])
		}
	}

	plan, err := provider.Scan(projection, utils.Deref(reqBody.BatchSize, utils.SCAN_BATCH_SIZE), filters)
	if err != nil {
		return c.DBError(err, "error planning scan")
	}
	batches, err := plan.Execute(ctx)
	if err != nil {
		return c.DBError(err, "error executing scan")
	}
	rows := table.RowsFromRecords(batches)
	for _, b := range batches {
		b.Release()
	}

	rows = filterRows(rows, filters, reqBody.Columns)
	logger.Debug().Str("table", tableName).Int("rows", len(rows)).Int("filters", len(filters)).Msgf("scanned table in %s", time.Since(start))

	return c.JSON(http.StatusOK, ScanRes{
		QueryID: queryID,
		Rows:    utils.OrEmpty(rows),
		TimeMS:  time.Since(start).Milliseconds(),
	})
}

func scanFilters(body ScanReqBody) ([]predicate.Expr, error) {
	filters := make([]predicate.Expr, 0, len(body.Filters)+2)
	for _, f := range body.Filters {
		if !f.Op.Valid() {
			return nil, fmt.Errorf("invalid op %q for column %s", f.Op, f.Column)
		}
		if f.Value == nil {
			return nil, fmt.Errorf("missing value for column %s", f.Column)
		}
		filters = append(filters, predicate.Expr{Column: f.Column, Op: f.Op, Value: f.Value})
	}
	if body.Start != nil {
		filters = append(filters, predicate.Expr{Column: predicate.TimeColumn, Op: predicate.GtEq, Value: *body.Start})
	}
	if body.End != nil {
		filters = append(filters, predicate.Expr{Column: predicate.TimeColumn, Op: predicate.Lt, Value: *body.End})
	}
	return filters, nil
}

func filterColumns(filters []predicate.Expr) []string {
	var cols []string
	for _, f := range filters {
		cols = utils.AppendUnique(cols, f.Column)
	}
	return cols
}

// filterRows keeps the rows matching every filter, then narrows them to
// columns when given. Rows are renumbered.
func filterRows(rows []table.Row, filters []predicate.Expr, columns []string) []table.Row {
	out := rows[:0]
	for _, row := range rows {
		if !rowMatches(row, filters) {
			continue
		}
		if len(columns) > 0 {
			row = narrowRow(row, columns)
		}
		row.Num = int64(len(out))
		out = append(out, row)
	}
	return out
}

func rowMatches(row table.Row, filters []predicate.Expr) bool {
	for _, f := range filters {
		matched := false
		for i, name := range row.ColNames {
			if name == f.Column {
				matched = f.Matches(row.ColVals[i])
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func narrowRow(row table.Row, columns []string) table.Row {
	vals := make([]any, 0, len(columns))
	for _, col := range columns {
		var val any
		for i, name := range row.ColNames {
			if name == col {
				val = row.ColVals[i]
				break
			}
		}
		vals = append(vals, val)
	}
	row.ColNames = columns
	row.ColVals = vals
	return row
}
