// Package mutablebuffer is the in-memory write buffer. Its chunks keep
// accepting rows while they are being queried.
package mutablebuffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/utils"
)

var (
	logger = gologger.ForComponent("mutablebuffer")
)

type (
	Chunk struct {
		id uint32

		mu     sync.RWMutex
		tables map[string]*table
	}

	table struct {
		name    string
		rows    int
		columns map[string]*column
	}

	column struct {
		dataType arrow.DataType
		// values holds one entry per row of the table, nil for null
		values []any
	}

	// Selection is the buffer's own column request. All returns the columns
	// sorted by name, otherwise Columns in order.
	Selection struct {
		All     bool
		Columns []string
	}
)

func NewChunk(id uint32) *Chunk {
	return &Chunk{
		id:     id,
		tables: make(map[string]*table),
	}
}

func (c *Chunk) ID() uint32 {
	return c.id
}

// IsEmpty reports whether no rows were written to any table.
func (c *Chunk) IsEmpty() bool {
	return c.RowCount() == 0
}

func (c *Chunk) RowCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := 0
	for _, t := range c.tables {
		rows += t.rows
	}
	return rows
}

// WriteRow appends one row to tableName. Columns missing from the row are null,
// a column keeps the type of the first value written to it.
func (c *Chunk) WriteRow(tableName string, row map[string]any) error {
	normalized := make(map[string]any, len(row))
	for key, val := range row {
		v, err := normalizeValue(val)
		if err != nil {
			return fmt.Errorf("error in column %s: %w", key, err)
		}
		normalized[key] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t, exists := c.tables[tableName]
	if !exists {
		t = &table{name: tableName, columns: make(map[string]*column)}
	}

	// Validate the whole row before touching any column
	for key, val := range normalized {
		if val == nil {
			continue
		}
		dt, _ := utils.DataTypeOf(val)
		if col, ok := t.columns[key]; ok && col.dataType != nil && !arrow.TypeEqual(col.dataType, dt) {
			return fmt.Errorf("%w: column %s of table %s is %s, got %s", ErrColumnTypeMismatch, key, tableName, col.dataType, dt)
		}
	}

	for key, val := range normalized {
		col, ok := t.columns[key]
		if !ok {
			col = &column{values: make([]any, t.rows, t.rows+1)}
			t.columns[key] = col
		}
		if col.dataType == nil && val != nil {
			col.dataType, _ = utils.DataTypeOf(val)
		}
		col.values = append(col.values, val)
	}
	t.rows++
	for _, col := range t.columns {
		if len(col.values) < t.rows {
			col.values = append(col.values, nil)
		}
	}

	c.tables[tableName] = t
	return nil
}

// WriteJSONRow flattens a nested JSON object and writes it as one row.
func (c *Chunk) WriteJSONRow(tableName string, nested map[string]any) error {
	flat, err := gojsonutils.Flatten(nested, nil)
	if err != nil {
		return fmt.Errorf("error in gojsonutils.Flatten: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrNotFlatMap, flat)
	}
	return c.WriteRow(tableName, flatMap)
}

// TableSchema returns the schema of tableName with fields sorted by name. Every
// field is nullable since rows may omit any column.
func (c *Chunk) TableSchema(tableName string) (*arrow.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}
	names := t.columnNames()
	fields := make([]arrow.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: t.columns[name].arrowType(), Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// TableToArrow appends one batch holding the selected columns of tableName.
func (c *Chunk) TableToArrow(dst []arrow.Record, tableName string, sel Selection) ([]arrow.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[tableName]
	if !ok {
		return dst, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}

	names := sel.Columns
	if sel.All {
		names = t.columnNames()
	}

	mem := memory.DefaultAllocator
	fields := make([]arrow.Field, 0, len(names))
	arrs := make([]arrow.Array, 0, len(names))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	for _, name := range names {
		col, ok := t.columns[name]
		if !ok {
			return dst, fmt.Errorf("%w: %s in table %s", ErrColumnNotFound, name, tableName)
		}
		arr, err := utils.BuildArray(mem, col.arrowType(), col.values)
		if err != nil {
			return dst, fmt.Errorf("error in BuildArray for column %s: %w", name, err)
		}
		fields = append(fields, arrow.Field{Name: name, Type: col.arrowType(), Nullable: true})
		arrs = append(arrs, arr)
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(t.rows))
	logger.Debug().Uint32("chunkID", c.id).Str("table", tableName).Int64("rows", rec.NumRows()).Int("columns", len(fields)).Msg("converted table to arrow")
	return append(dst, rec), nil
}

// TableStats summarizes every table, sorted by table name.
func (c *Chunk) TableStats() ([]part.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tables := make([]part.Table, 0, len(c.tables))
	for _, name := range c.tableNames() {
		t := c.tables[name]
		summary := part.Table{Name: name}
		for _, colName := range t.columnNames() {
			var stats part.Statistics
			for _, v := range t.columns[colName].values {
				stats.Update(v)
			}
			summary.Columns = append(summary.Columns, part.Column{Name: colName, Stats: stats})
		}
		tables = append(tables, summary)
	}
	return tables, nil
}

// tableNames must be called with mu held
func (c *Chunk) tableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *table) columnNames() []string {
	names := make([]string, 0, len(t.columns))
	for name := range t.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// arrowType of a column that only ever saw nulls is string
func (col *column) arrowType() arrow.DataType {
	if col.dataType == nil {
		return arrow.BinaryTypes.String
	}
	return col.dataType
}

func normalizeValue(v any) (any, error) {
	switch n := v.(type) {
	case nil, string, float64, float32, int64, bool:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case *string:
		if n == nil {
			return nil, nil
		}
		return *n, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
