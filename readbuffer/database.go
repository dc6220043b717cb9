// Package readbuffer holds immutable chunks of arrow records, grouped by
// partition key and chunk id.
package readbuffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/utils"
)

var (
	logger = gologger.ForComponent("readbuffer")
)

type (
	Database struct {
		partitions map[string]*partition
	}

	partition struct {
		key    string
		chunks map[uint32]*chunk
	}

	chunk struct {
		id     uint32
		tables map[string]*table
	}

	table struct {
		name    string
		schema  *arrow.Schema
		records []arrow.Record
	}

	// Handle guards a Database for concurrent readers and a single writer.
	Handle struct {
		mu sync.RWMutex
		db *Database
	}
)

func NewDatabase() *Database {
	return &Database{partitions: make(map[string]*partition)}
}

func NewHandle(db *Database) *Handle {
	if db == nil {
		db = NewDatabase()
	}
	return &Handle{db: db}
}

// Read runs fn with the read lock held.
func (h *Handle) Read(fn func(db *Database) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.db)
}

// Write runs fn with the write lock held.
func (h *Handle) Write(fn func(db *Database) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.db)
}

// UpsertPartition adds rec to tableName in the given chunk, creating the
// partition, chunk and table as needed. Every record of a table must share
// one schema. The database retains rec.
func (db *Database) UpsertPartition(partitionKey string, chunkID uint32, tableName string, rec arrow.Record) error {
	p, ok := db.partitions[partitionKey]
	if !ok {
		p = &partition{key: partitionKey, chunks: make(map[uint32]*chunk)}
		db.partitions[partitionKey] = p
	}
	c, ok := p.chunks[chunkID]
	if !ok {
		c = &chunk{id: chunkID, tables: make(map[string]*table)}
		p.chunks[chunkID] = c
	}
	t, ok := c.tables[tableName]
	if !ok {
		t = &table{name: tableName, schema: rec.Schema()}
		c.tables[tableName] = t
	} else if !t.schema.Equal(rec.Schema()) {
		return fmt.Errorf("%w: table %s in chunk %d", ErrSchemaMismatch, tableName, chunkID)
	}
	rec.Retain()
	t.records = append(t.records, rec)
	logger.Debug().Str("partition", partitionKey).Uint32("chunkID", chunkID).Str("table", tableName).Int64("rows", rec.NumRows()).Msg("upserted records")
	return nil
}

// DropChunk removes a chunk and releases its records.
func (db *Database) DropChunk(partitionKey string, chunkID uint32) error {
	c, err := db.chunk(partitionKey, chunkID)
	if err != nil {
		return err
	}
	for _, t := range c.tables {
		for _, rec := range t.records {
			rec.Release()
		}
	}
	p := db.partitions[partitionKey]
	delete(p.chunks, chunkID)
	if len(p.chunks) == 0 {
		delete(db.partitions, partitionKey)
	}
	return nil
}

func (db *Database) PartitionKeys() []string {
	keys := make([]string, 0, len(db.partitions))
	for key := range db.partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (db *Database) ChunkIDs(partitionKey string) []uint32 {
	p, ok := db.partitions[partitionKey]
	if !ok {
		return nil
	}
	ids := make([]uint32, 0, len(p.chunks))
	for id := range p.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (db *Database) HasChunk(partitionKey string, chunkID uint32) bool {
	_, err := db.chunk(partitionKey, chunkID)
	return err == nil
}

func (db *Database) TableSchema(partitionKey string, chunkID uint32, tableName string) (*arrow.Schema, error) {
	c, err := db.chunk(partitionKey, chunkID)
	if err != nil {
		return nil, err
	}
	t, ok := c.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s in chunk %d", ErrTableNotFound, tableName, chunkID)
	}
	return t.schema, nil
}

// TableSummaries summarizes every table of a chunk, sorted by table name.
func (db *Database) TableSummaries(partitionKey string, chunkID uint32) ([]part.Table, error) {
	c, err := db.chunk(partitionKey, chunkID)
	if err != nil {
		return nil, err
	}
	summaries := make([]part.Table, 0, len(c.tables))
	for _, name := range c.tableNames() {
		t := c.tables[name]
		summary := part.Table{Name: name}
		for _, field := range utils.SortedFields(t.schema) {
			col := part.Column{Name: field.Name}
			idx := t.schema.FieldIndices(field.Name)[0]
			for _, rec := range t.records {
				arr := rec.Column(idx)
				for row := 0; row < arr.Len(); row++ {
					col.Stats.Update(utils.ValueAt(arr, row))
				}
			}
			summary.Columns = append(summary.Columns, col)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ReadFilter returns the rows of tableName across chunkIDs that match pred,
// restricted to sel. Records where no row matches are left out.
func (db *Database) ReadFilter(partitionKey string, tableName string, chunkIDs []uint32, pred Predicate, sel ColumnSelection) ([]arrow.Record, error) {
	var out []arrow.Record
	for _, chunkID := range chunkIDs {
		c, err := db.chunk(partitionKey, chunkID)
		if err != nil {
			releaseRecords(out)
			return nil, err
		}
		t, ok := c.tables[tableName]
		if !ok {
			releaseRecords(out)
			return nil, fmt.Errorf("%w: %s in chunk %d", ErrTableNotFound, tableName, chunkID)
		}
		cols, err := t.selectColumns(sel)
		if err != nil {
			releaseRecords(out)
			return nil, err
		}
		for _, rec := range t.records {
			filtered, err := filterRecord(rec, cols, pred)
			if err != nil {
				releaseRecords(out)
				return nil, fmt.Errorf("error filtering table %s in chunk %d: %w", tableName, chunkID, err)
			}
			if filtered != nil {
				out = append(out, filtered)
			}
		}
	}
	return out, nil
}

// TableNames returns a single column batch named "tables" listing, in order,
// the tables across chunkIDs with at least one row matching pred.
func (db *Database) TableNames(partitionKey string, chunkIDs []uint32, pred Predicate) (arrow.Record, error) {
	found := map[string]struct{}{}
	for _, chunkID := range chunkIDs {
		c, err := db.chunk(partitionKey, chunkID)
		if err != nil {
			return nil, err
		}
		for _, name := range c.tableNames() {
			if _, ok := found[name]; ok || !pred.includesTable(name) {
				continue
			}
			for _, rec := range c.tables[name].records {
				if _, matched, ok := pred.rowMask(rec); ok && matched > 0 {
					found[name] = struct{}{}
					break
				}
			}
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return utils.StringsToBatch("tables", names)
}

func (db *Database) chunk(partitionKey string, chunkID uint32) (*chunk, error) {
	p, ok := db.partitions[partitionKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionKey)
	}
	c, ok := p.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("%w: %d in partition %s", ErrChunkNotFound, chunkID, partitionKey)
	}
	return c, nil
}

func (c *chunk) tableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selectColumns resolves sel to field indices into the table schema
func (t *table) selectColumns(sel ColumnSelection) ([]int, error) {
	if sel.All {
		fields := utils.SortedFields(t.schema)
		cols := make([]int, len(fields))
		for i, f := range fields {
			cols[i] = t.schema.FieldIndices(f.Name)[0]
		}
		return cols, nil
	}
	cols := make([]int, 0, len(sel.Columns))
	for _, name := range sel.Columns {
		idx := t.schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: %s in table %s", ErrColumnNotFound, name, t.name)
		}
		cols = append(cols, idx[0])
	}
	return cols, nil
}

// filterRecord projects rec onto cols keeping the rows matching pred. It
// returns nil when no row matches.
func filterRecord(rec arrow.Record, cols []int, pred Predicate) (arrow.Record, error) {
	schema := rec.Schema()
	fields := make([]arrow.Field, len(cols))
	for i, idx := range cols {
		fields[i] = schema.Field(idx)
	}
	outSchema := arrow.NewSchema(fields, nil)

	mask, matched, ok := pred.rowMask(rec)
	if !ok || matched == 0 {
		return nil, nil
	}
	if matched == int(rec.NumRows()) {
		arrs := make([]arrow.Array, len(cols))
		for i, idx := range cols {
			arrs[i] = rec.Column(idx)
		}
		return array.NewRecord(outSchema, arrs, rec.NumRows()), nil
	}

	mem := memory.DefaultAllocator
	arrs := make([]arrow.Array, 0, len(cols))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	for i, idx := range cols {
		src := rec.Column(idx)
		values := make([]any, 0, matched)
		for row, keep := range mask {
			if keep {
				values = append(values, utils.ValueAt(src, row))
			}
		}
		arr, err := utils.BuildArray(mem, fields[i].Type, values)
		if err != nil {
			return nil, fmt.Errorf("error in BuildArray for column %s: %w", fields[i].Name, err)
		}
		arrs = append(arrs, arr)
	}
	return array.NewRecord(outSchema, arrs, int64(matched)), nil
}

func releaseRecords(recs []arrow.Record) {
	for _, rec := range recs {
		rec.Release()
	}
}
