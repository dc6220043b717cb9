package query

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/selection"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStats = errors.New("stats unavailable")

type fakeChunk struct {
	id       uint32
	table    string
	hosts    []string
	usages   []float64
	statsErr error
}

func cpuSchema(usageType arrow.DataType) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "usage", Type: usageType, Nullable: true},
	}, nil)
}

func (c *fakeChunk) ID() uint32 { return c.id }

func (c *fakeChunk) TableStats() ([]part.Table, error) {
	if c.statsErr != nil {
		return nil, c.statsErr
	}
	var host, usage part.Statistics
	for i := range c.hosts {
		host.Update(c.hosts[i])
		usage.Update(c.usages[i])
	}
	return []part.Table{{Name: c.table, Columns: []part.Column{
		{Name: "host", Stats: host},
		{Name: "usage", Stats: usage},
	}}}, nil
}

func (c *fakeChunk) TableToArrow(dst []arrow.Record, tableName string, sel selection.Selection) ([]arrow.Record, error) {
	if tableName != c.table {
		return dst, errors.New("table not found")
	}
	mem := memory.NewGoAllocator()
	hb := array.NewStringBuilder(mem)
	hb.AppendValues(c.hosts, nil)
	ub := array.NewFloat64Builder(mem)
	ub.AppendValues(c.usages, nil)
	cols := map[string]arrow.Array{"host": hb.NewArray(), "usage": ub.NewArray()}
	full := cpuSchema(arrow.PrimitiveTypes.Float64)

	names := []string{"host", "usage"}
	if !sel.IsAll() {
		names = sel.Columns()
	}
	fields := make([]arrow.Field, 0, len(names))
	arrs := make([]arrow.Array, 0, len(names))
	for _, n := range names {
		fields = append(fields, full.Field(full.FieldIndices(n)[0]))
		arrs = append(arrs, cols[n])
	}
	return append(dst, array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(len(c.hosts)))), nil
}

func (c *fakeChunk) TableNames(_ context.Context, _ *predicate.Predicate) (Plan, error) {
	batch, err := utils.StringsToBatch("tables", []string{c.table})
	if err != nil {
		return nil, err
	}
	return MakeScanPlan(batch)
}

func TestBuildKeepsChunkOrder(t *testing.T) {
	schema := cpuSchema(arrow.PrimitiveTypes.Float64)
	chunks := []*fakeChunk{{id: 3, table: "cpu"}, {id: 1, table: "cpu"}, {id: 2, table: "cpu"}}

	b := NewProviderBuilder("cpu")
	var err error
	for _, c := range chunks {
		b, err = b.AddChunk(c, cpuSchema(arrow.PrimitiveTypes.Float64))
		require.NoError(t, err)
	}
	provider, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "cpu", provider.TableName())
	assert.True(t, provider.Schema().Equal(schema))
	got := provider.Chunks()
	require.Len(t, got, 3)
	for i := range chunks {
		assert.Equal(t, chunks[i].ID(), got[i].ID())
	}
}

func TestBuildEmptyTable(t *testing.T) {
	_, err := NewProviderBuilder("cpu").Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRowsInTable)
	assert.Contains(t, err.Error(), "cpu")
}

func TestAddChunkSchemaMismatch(t *testing.T) {
	mismatched := []*arrow.Schema{
		cpuSchema(arrow.PrimitiveTypes.Float32),
		arrow.NewSchema([]arrow.Field{{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true}}, nil),
		arrow.NewSchema([]arrow.Field{
			{Name: "host", Type: arrow.BinaryTypes.String, Nullable: false},
			{Name: "usage", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		}, nil),
		arrow.NewSchema([]arrow.Field{
			{Name: "usage", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil),
	}
	base := cpuSchema(arrow.PrimitiveTypes.Float64)

	for _, other := range mismatched {
		for _, order := range [][2]*arrow.Schema{{base, other}, {other, base}} {
			b, err := NewProviderBuilder("cpu").AddChunk(&fakeChunk{id: 1, table: "cpu"}, order[0])
			require.NoError(t, err)
			b, err = b.AddChunk(&fakeChunk{id: 2, table: "cpu"}, order[1])
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaIncompatible)

			var schemaErr *SchemaIncompatibleError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, "cpu", schemaErr.TableName)
			assert.True(t, schemaErr.Existing.Equal(order[0]))
			assert.True(t, schemaErr.New.Equal(order[1]))

			// the builder handed back after a failure cannot produce a table
			_, err = b.Build()
			assert.ErrorIs(t, err, ErrNoRowsInTable)
		}
	}
}

func TestFloat64ThenFloat32NamesTable(t *testing.T) {
	b, err := NewProviderBuilder("cpu").AddChunk(&fakeChunk{id: 1, table: "cpu"}, cpuSchema(arrow.PrimitiveTypes.Float64))
	require.NoError(t, err)
	_, err = b.AddChunk(&fakeChunk{id: 2, table: "cpu"}, cpuSchema(arrow.PrimitiveTypes.Float32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table cpu")
}

func TestBuilderStepsDoNotAlias(t *testing.T) {
	schema := cpuSchema(arrow.PrimitiveTypes.Float64)
	b1, err := NewProviderBuilder("cpu").AddChunk(&fakeChunk{id: 1, table: "cpu"}, schema)
	require.NoError(t, err)
	b2, err := b1.AddChunk(&fakeChunk{id: 2, table: "cpu"}, schema)
	require.NoError(t, err)
	b3, err := b1.AddChunk(&fakeChunk{id: 3, table: "cpu"}, schema)
	require.NoError(t, err)

	p2, err := b2.Build()
	require.NoError(t, err)
	p3, err := b3.Build()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p2.Chunks()[1].ID())
	assert.Equal(t, uint32(3), p3.Chunks()[1].ID())
}

func buildCPU(t *testing.T, chunks ...*fakeChunk) *ChunkTableProvider {
	t.Helper()
	b := NewProviderBuilder("cpu")
	var err error
	for _, c := range chunks {
		b, err = b.AddChunk(c, cpuSchema(arrow.PrimitiveTypes.Float64))
		require.NoError(t, err)
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestScanAllColumnsInChunkOrder(t *testing.T) {
	p := buildCPU(t,
		&fakeChunk{id: 1, table: "cpu", hosts: []string{"a", "b"}, usages: []float64{0.1, 0.2}},
		&fakeChunk{id: 2, table: "cpu", hosts: []string{"c"}, usages: []float64{0.3}},
	)

	plan, err := p.Scan(nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "host", plan.Schema().Field(0).Name)
	assert.Equal(t, "usage", plan.Schema().Field(1).Name)

	batches, err := plan.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)

	var hosts []string
	for _, b := range batches {
		require.Equal(t, int64(2), b.NumCols())
		assert.Equal(t, "host", b.ColumnName(0))
		assert.Equal(t, "usage", b.ColumnName(1))
		col := b.Column(0).(*array.String)
		for i := 0; i < col.Len(); i++ {
			hosts = append(hosts, col.Value(i))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, hosts)
}

func TestScanProjectionAndBatchSize(t *testing.T) {
	p := buildCPU(t,
		&fakeChunk{id: 1, table: "cpu", hosts: []string{"a", "b", "c"}, usages: []float64{0.1, 0.2, 0.3}},
		&fakeChunk{id: 2, table: "cpu", hosts: []string{"d"}, usages: []float64{0.4}},
	)

	filters := []predicate.Expr{{Column: "host", Op: predicate.Eq, Value: "a"}}
	plan, err := p.Scan([]int{1}, 2, filters)
	require.NoError(t, err)
	scan := plan.(*TableScanPlan)
	assert.Equal(t, filters, scan.Filters)
	assert.Equal(t, []string{"usage"}, scan.Selection().Columns())

	batches, err := plan.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, int64(2), batches[0].NumRows())
	assert.Equal(t, int64(1), batches[1].NumRows())
	assert.Equal(t, int64(1), batches[2].NumRows())
	for _, b := range batches {
		require.Equal(t, int64(1), b.NumCols())
		assert.Equal(t, "usage", b.ColumnName(0))
	}
	assert.Equal(t, 0.3, batches[1].Column(0).(*array.Float64).Value(0))
}

func TestScanInvalidProjection(t *testing.T) {
	p := buildCPU(t, &fakeChunk{id: 1, table: "cpu"})
	_, err := p.Scan([]int{2}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidProjection)
}

func TestScanEmptyProjection(t *testing.T) {
	p := buildCPU(t, &fakeChunk{id: 1, table: "cpu", hosts: []string{"a"}, usages: []float64{1}})
	plan, err := p.Scan([]int{}, 0, nil)
	require.NoError(t, err)
	batches, err := plan.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(0), batches[0].NumCols())
	assert.Equal(t, int64(1), batches[0].NumRows())
}

func TestScanCancelled(t *testing.T) {
	p := buildCPU(t, &fakeChunk{id: 1, table: "cpu"})
	plan, err := p.Scan(nil, 0, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = plan.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatistics(t *testing.T) {
	p := buildCPU(t,
		&fakeChunk{id: 1, table: "cpu", hosts: []string{"a", "b"}, usages: []float64{0.5, 0.2}},
		&fakeChunk{id: 2, table: "cpu", hosts: []string{"c"}, usages: []float64{0.9}},
	)
	stats, err := p.Statistics()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.NumRows)
	require.Len(t, stats.ColumnStatistics, 2)
	assert.Equal(t, "host", stats.ColumnStatistics[0].Name)
	assert.Equal(t, "a", stats.ColumnStatistics[0].Min)
	assert.Equal(t, "c", stats.ColumnStatistics[0].Max)
	assert.Equal(t, 0.2, stats.ColumnStatistics[1].Min)
	assert.Equal(t, 0.9, stats.ColumnStatistics[1].Max)
}

func TestStatisticsChunkFailure(t *testing.T) {
	p := buildCPU(t,
		&fakeChunk{id: 1, table: "cpu"},
		&fakeChunk{id: 7, table: "cpu", statsErr: errStats},
	)
	_, err := p.Statistics()
	assert.ErrorIs(t, err, errStats)
	assert.Contains(t, err.Error(), "chunk 7")
}
