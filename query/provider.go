package query

import (
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/selection"
	"github.com/danthegoodman1/icetier/utils"
)

type (
	// TableProvider is what a query planner needs from a table.
	TableProvider interface {
		Schema() *arrow.Schema
		Scan(projection []int, batchSize int, filters []predicate.Expr) (Plan, error)
		Statistics() (Statistics, error)
	}

	Statistics struct {
		NumRows          int64
		ColumnStatistics []ColumnStatistics
	}

	ColumnStatistics struct {
		Name      string
		NullCount int64
		Min       any
		Max       any
	}

	// ProviderBuilder accumulates the chunks of one table. Every step returns a
	// new builder; a failed step returns the zero builder, which cannot build.
	ProviderBuilder struct {
		tableName string
		schema    *arrow.Schema
		chunks    []PartitionChunk
	}

	// ChunkTableProvider is the immutable view over all chunks of a table.
	ChunkTableProvider struct {
		tableName string
		schema    *arrow.Schema
		chunks    []PartitionChunk
	}
)

var _ TableProvider = (*ChunkTableProvider)(nil)

func NewProviderBuilder(tableName string) ProviderBuilder {
	return ProviderBuilder{tableName: tableName}
}

// AddChunk adds chunk with its schema for this table. The first chunk sets the
// table schema, later chunks must match it exactly.
func (b ProviderBuilder) AddChunk(chunk PartitionChunk, chunkTableSchema *arrow.Schema) (ProviderBuilder, error) {
	schema := chunkTableSchema
	if b.schema != nil {
		// For now, use strict equality. Eventually should union the schema
		if !b.schema.Equal(chunkTableSchema) {
			return ProviderBuilder{}, &SchemaIncompatibleError{
				TableName: b.tableName,
				Existing:  b.schema,
				New:       chunkTableSchema,
			}
		}
		schema = b.schema
	}

	// full slice expression so a builder kept from an earlier step never
	// shares a backing array with this one
	chunks := append(b.chunks[:len(b.chunks):len(b.chunks)], chunk)
	return ProviderBuilder{
		tableName: b.tableName,
		schema:    schema,
		chunks:    chunks,
	}, nil
}

func (b ProviderBuilder) Build() (*ChunkTableProvider, error) {
	// if the table was reported to exist, it should not be empty
	if len(b.chunks) == 0 || b.schema == nil {
		return nil, fmt.Errorf("%w %s", ErrNoRowsInTable, b.tableName)
	}

	return &ChunkTableProvider{
		tableName: b.tableName,
		schema:    b.schema,
		chunks:    b.chunks,
	}, nil
}

func (p *ChunkTableProvider) TableName() string {
	return p.tableName
}

func (p *ChunkTableProvider) Schema() *arrow.Schema {
	return p.schema
}

// Chunks returns the member chunks in insertion order.
func (p *ChunkTableProvider) Chunks() []PartitionChunk {
	return append([]PartitionChunk(nil), p.chunks...)
}

// Scan builds a plan over every chunk. A nil projection selects all columns,
// otherwise the indexes refer to Schema(). batchSize is a hint, batches longer
// than it are split. filters are kept on the plan but not applied.
func (p *ChunkTableProvider) Scan(projection []int, batchSize int, filters []predicate.Expr) (Plan, error) {
	sel := selection.All()
	var fields []arrow.Field
	if projection == nil {
		fields = utils.SortedFields(p.schema)
	} else {
		names := make([]string, 0, len(projection))
		fields = make([]arrow.Field, 0, len(projection))
		for _, idx := range projection {
			if idx < 0 || idx >= p.schema.NumFields() {
				return nil, fmt.Errorf("%w: %d for table %s with %d columns", ErrInvalidProjection, idx, p.tableName, p.schema.NumFields())
			}
			f := p.schema.Field(idx)
			names = append(names, f.Name)
			fields = append(fields, f)
		}
		sel = selection.Some(names)
	}

	md := p.schema.Metadata()
	return &TableScanPlan{
		tableName: p.tableName,
		schema:    arrow.NewSchema(fields, &md),
		selection: sel,
		chunks:    p.Chunks(),
		batchSize: batchSize,
		Filters:   filters,
	}, nil
}

// Statistics merges the table summaries of every chunk. The first chunk that
// fails to report fails the whole call.
func (p *ChunkTableProvider) Statistics() (Statistics, error) {
	var tables []part.Table
	var numRows uint64
	for _, chunk := range p.chunks {
		chunkTables, err := chunk.TableStats()
		if err != nil {
			return Statistics{}, fmt.Errorf("error in TableStats for chunk %d of table %s: %w", chunk.ID(), p.tableName, err)
		}
		for _, t := range chunkTables {
			if t.Name != p.tableName {
				continue
			}
			numRows += t.RowCount()
			tables = append(tables, t)
		}
	}

	merged := part.MergeTables(p.tableName, tables)
	stats := Statistics{
		NumRows:          int64(numRows),
		ColumnStatistics: make([]ColumnStatistics, 0, len(merged.Columns)),
	}
	for _, c := range merged.Columns {
		stats.ColumnStatistics = append(stats.ColumnStatistics, ColumnStatistics{
			Name:      c.Name,
			NullCount: int64(c.Stats.NullCount),
			Min:       c.Stats.Min,
			Max:       c.Stats.Max,
		})
	}
	return stats, nil
}
