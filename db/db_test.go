package db

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/danthegoodman1/icetier/datastore"
	"github.com/danthegoodman1/icetier/metastore"
	"github.com/danthegoodman1/icetier/partitioner"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/query"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDb(t *testing.T, plans []partitioner.PartitionPlan) *Db {
	t.Helper()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	require.NoError(t, err)
	return New(readbuffer.NewHandle(nil), ds, nil, plans)
}

func scanAll(t *testing.T, provider *query.ChunkTableProvider) []string {
	t.Helper()
	plan, err := provider.Scan(nil, 0, nil)
	require.NoError(t, err)
	batches, err := plan.Execute(context.Background())
	require.NoError(t, err)
	var hosts []string
	for _, b := range batches {
		hosts = append(hosts, stringColumn(t, b, 0)...)
		b.Release()
	}
	return hosts
}

func TestChunkLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)

	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{
		{"host": "a", "usage": 0.5},
		{"host": "b", "usage": 0.25},
	}))
	id, err := d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "c", "usage": 0.75}}))
	assert.Equal(t, []string{partitioner.DefaultPartition}, d.PartitionKeys())

	chunks, err := d.Chunks(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, MutableBufferTier, chunks[0].Tier())

	// the open chunk cannot move
	assert.ErrorIs(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 1), ErrChunkNotClosed)

	require.NoError(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 0))
	chunks, err = d.Chunks(partitioner.DefaultPartition)
	require.NoError(t, err)
	assert.Equal(t, ReadBufferTier, chunks[0].Tier())
	assert.Equal(t, MutableBufferTier, chunks[1].Tier())

	// read buffer chunk first, then the open mutable one
	provider, err := d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Len(t, provider.Chunks(), 2)
	assert.Equal(t, []string{"a", "b", "c"}, scanAll(t, provider))

	stats, err := provider.Statistics()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.NumRows)

	require.NoError(t, d.PersistChunk(ctx, partitioner.DefaultPartition, 0))
	require.NoError(t, d.UnloadChunk(partitioner.DefaultPartition, 0))
	chunks, err = d.Chunks(partitioner.DefaultPartition)
	require.NoError(t, err)
	assert.Equal(t, ParquetFileTier, chunks[0].Tier())

	provider, err = d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, scanAll(t, provider))

	schema := provider.Schema()
	require.NoError(t, d.LoadParquetChunk(ctx, partitioner.DefaultPartition, 0, "cpu", schema))
	assert.ErrorIs(t, d.LoadParquetChunk(ctx, partitioner.DefaultPartition, 0, "cpu", schema), ErrAlreadyLoaded)

	provider, err = d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, scanAll(t, provider))

	summaries := d.ChunkSummaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, []string{"cpu"}, summaries[0].Persisted)
	assert.True(t, summaries[1].Open)
}

func TestWrongTierOperations(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)
	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "a"}}))

	assert.ErrorIs(t, d.PersistChunk(ctx, partitioner.DefaultPartition, 0), ErrWrongTier)
	assert.ErrorIs(t, d.UnloadChunk(partitioner.DefaultPartition, 0), ErrWrongTier)
	assert.ErrorIs(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 5), ErrChunkNotFound)
	_, err := d.RolloverPartition("nope")
	assert.ErrorIs(t, err, ErrPartitionNotFound)

	_, err = d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	_, err = d.RolloverPartition(partitioner.DefaultPartition)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestTableProviderErrors(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)

	_, err := d.TableProvider(ctx, "cpu")
	assert.ErrorIs(t, err, query.ErrNoRowsInTable)

	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "a", "usage": 0.5}}))
	_, err = d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "b", "usage": "high"}}))

	_, err = d.TableProvider(ctx, "cpu")
	assert.ErrorIs(t, err, query.ErrSchemaIncompatible)
}

func TestPartitionedWritesAndTableNames(t *testing.T) {
	ctx := context.Background()
	plans, err := partitioner.ParsePlan("col:region:region")
	require.NoError(t, err)
	d := newTestDb(t, plans)

	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{
		{"region": "us", "host": "a", "usage": 0.5},
		{"region": "eu", "host": "b", "usage": 0.9},
	}))
	require.NoError(t, d.WriteRows(ctx, "mem", []map[string]any{{"region": "eu", "free": 10.0}}))
	assert.Equal(t, []string{"region=eu", "region=us"}, d.PartitionKeys())

	_, err = d.RolloverPartition("region=eu")
	require.NoError(t, err)
	require.NoError(t, d.MoveChunkToReadBuffer(ctx, "region=eu", 0))

	names, err := d.TableNames(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu", "mem"}, names)

	names, err = d.TableNames(ctx, predicate.NewBuilder().Add(predicate.Expr{Column: "usage", Op: predicate.Gt, Value: 0.6}).Build())
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu"}, names)

	err = d.WriteRows(ctx, "cpu", []map[string]any{{"host": "c"}})
	assert.ErrorIs(t, err, partitioner.ErrMissingColumns)
}

func TestNestedRowsAreFlattened(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)
	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{
		{"host": "a", "load": map[string]any{"one": 0.5}},
	}))

	provider, err := d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	schema := provider.Schema()
	require.Equal(t, 2, schema.NumFields())
	assert.Equal(t, "host", schema.Field(0).Name)

	plan, err := provider.Scan([]int{1}, 0, nil)
	require.NoError(t, err)
	batches, err := plan.Execute(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	defer batches[0].Release()
	assert.Equal(t, 0.5, batches[0].Column(0).(*array.Float64).Value(0))
}

func TestLoadPersistedChunk(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)
	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "a", "usage": 0.5}}))
	require.NoError(t, d.WriteRows(ctx, "mem", []map[string]any{{"host": "a", "free": 12.0}}))
	_, err := d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.NoError(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 0))

	assert.ErrorIs(t, d.LoadPersistedChunk(ctx, partitioner.DefaultPartition, 0), ErrWrongTier)

	require.NoError(t, d.PersistChunk(ctx, partitioner.DefaultPartition, 0))
	require.NoError(t, d.UnloadChunk(partitioner.DefaultPartition, 0))
	names, err := d.TableNames(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, d.LoadPersistedChunk(ctx, partitioner.DefaultPartition, 0))
	names, err = d.TableNames(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu", "mem"}, names)
}

func TestRestoreFromMetaStore(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	require.NoError(t, err)
	ms := metastore.NewMemoryMetaStore()

	first := New(nil, ds, ms, nil)
	require.NoError(t, first.WriteRows(ctx, "cpu", []map[string]any{{"host": "a", "usage": 0.5}, {"host": "b"}}))
	_, err = first.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.NoError(t, first.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 0))
	require.NoError(t, first.PersistChunk(ctx, partitioner.DefaultPartition, 0))

	files, err := ms.ListChunkFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(2), files[0].NumRows)
	assert.Equal(t, []string{"host", "usage"}, files[0].ColNames)

	// a fresh process over the same stores
	second := New(nil, ds, ms, nil)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	chunks, err := second.Chunks(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ParquetFileTier, chunks[0].Tier())

	require.NoError(t, second.LoadPersistedChunk(ctx, partitioner.DefaultPartition, 0))
	require.NoError(t, second.WriteRows(ctx, "cpu", []map[string]any{{"host": "c", "usage": 0.75}}))

	provider, err := second.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, scanAll(t, provider))

	// restoring again leaves known chunks alone
	n, err = second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	summaries := second.ChunkSummaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, uint32(1), summaries[1].ID)
}

func TestFailedFirstWriteOpensNoChunk(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)

	require.Error(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": int8(1)}}))
	assert.Empty(t, d.ChunkSummaries())
	_, err := d.RolloverPartition(partitioner.DefaultPartition)
	assert.ErrorIs(t, err, ErrPartitionNotFound)

	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "a"}}))
	summaries := d.ChunkSummaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, uint32(0), summaries[0].ID)

	provider, err := d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, scanAll(t, provider))
	names, err := d.TableNames(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu"}, names)

	// a failure on a chunk that already holds rows keeps the chunk
	require.Error(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": int8(2)}}))
	assert.Len(t, d.ChunkSummaries(), 1)
}

func TestMoveEmptyChunkDropsIt(t *testing.T) {
	ctx := context.Background()
	d := newTestDb(t, nil)
	require.NoError(t, d.WriteRows(ctx, "cpu", []map[string]any{{"host": "a"}}))
	_, err := d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.NoError(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, 0))

	d.mu.Lock()
	empty := d.openChunk(partitioner.DefaultPartition)
	d.mu.Unlock()
	id, err := d.RolloverPartition(partitioner.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, empty.ID(), id)

	require.NoError(t, d.MoveChunkToReadBuffer(ctx, partitioner.DefaultPartition, id))
	summaries := d.ChunkSummaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, uint32(0), summaries[0].ID)
	assert.Equal(t, ReadBufferTier.String(), summaries[0].Tier)

	provider, err := d.TableProvider(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, scanAll(t, provider))
	names, err := d.TableNames(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu"}, names)
}
