package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/danthegoodman1/icetier/datastore"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/metastore"
	"github.com/danthegoodman1/icetier/mutablebuffer"
	"github.com/danthegoodman1/icetier/parquet_accumulator"
	"github.com/danthegoodman1/icetier/partitioner"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/query"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.ForComponent("db")
)

type (
	// Db tracks every partition and where each of its chunks lives. Rows are
	// written to the open mutable buffer chunk of their partition, closed
	// chunks move on to the read buffer and from there into parquet files.
	Db struct {
		rb    *readbuffer.Handle
		ds    datastore.DataStore
		ms    metastore.MetaStore
		plans []partitioner.PartitionPlan

		mu         sync.RWMutex
		partitions map[string]*partitionState
	}

	partitionState struct {
		key         string
		nextChunkID uint32
		// openID is only meaningful when hasOpen is set
		openID  uint32
		hasOpen bool
		chunks  map[uint32]*chunkState
	}

	chunkState struct {
		id   uint32
		tier Tier
		mb   *mutablebuffer.Chunk
		// persisted maps each table written to the datastore to its schema
		persisted map[string]*arrow.Schema
	}

	// ChunkSummary describes a chunk for listings.
	ChunkSummary struct {
		PartitionKey string   `json:"partitionKey"`
		ID           uint32   `json:"id"`
		Tier         string   `json:"tier"`
		Open         bool     `json:"open"`
		Persisted    []string `json:"persisted,omitempty"`
	}
)

// New builds an empty catalog. A nil rb or ms gets a fresh in-memory one.
func New(rb *readbuffer.Handle, ds datastore.DataStore, ms metastore.MetaStore, plans []partitioner.PartitionPlan) *Db {
	partitioner.RegisterFunctions()
	if rb == nil {
		rb = readbuffer.NewHandle(nil)
	}
	if ms == nil {
		ms = metastore.NewMemoryMetaStore()
	}
	return &Db{
		rb:         rb,
		ds:         ds,
		ms:         ms,
		plans:      plans,
		partitions: make(map[string]*partitionState),
	}
}

// WriteRows routes each row to its partition's open chunk, opening one when
// needed. Nested objects are flattened. Rows before a failing one stay written,
// a chunk left without rows by the failure is discarded.
func (d *Db) WriteRows(ctx context.Context, table string, rows []map[string]any) error {
	logger := zerolog.Ctx(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, row := range rows {
		key, err := partitioner.GetRowPartition(row, d.plans)
		if err != nil {
			return fmt.Errorf("error in GetRowPartition for row %d: %w", i, err)
		}
		chunk := d.openChunk(key)
		if err = chunk.WriteJSONRow(table, row); err != nil {
			if chunk.IsEmpty() {
				d.discardOpenChunk(key)
			}
			return fmt.Errorf("error writing row %d to partition %s: %w", i, key, err)
		}
	}
	logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("wrote rows")
	return nil
}

// openChunk must be called with mu held
func (d *Db) openChunk(partitionKey string) *mutablebuffer.Chunk {
	p, ok := d.partitions[partitionKey]
	if !ok {
		p = &partitionState{key: partitionKey, chunks: make(map[uint32]*chunkState)}
		d.partitions[partitionKey] = p
	}
	if p.hasOpen {
		return p.chunks[p.openID].mb
	}
	id := p.nextChunkID
	p.nextChunkID++
	c := &chunkState{id: id, tier: MutableBufferTier, mb: mutablebuffer.NewChunk(id)}
	p.chunks[id] = c
	p.openID, p.hasOpen = id, true
	logger.Debug().Str("partition", partitionKey).Uint32("chunkID", id).Msg("opened chunk")
	return c.mb
}

// discardOpenChunk drops the open chunk of a partition and reuses its id.
// The partition goes too when it has no other chunk. Must be called with mu held.
func (d *Db) discardOpenChunk(partitionKey string) {
	p, ok := d.partitions[partitionKey]
	if !ok || !p.hasOpen {
		return
	}
	d.dropChunk(p, p.openID)
	logger.Debug().Str("partition", partitionKey).Uint32("chunkID", p.openID).Msg("discarded empty chunk")
}

// dropChunk must be called with mu held
func (d *Db) dropChunk(p *partitionState, chunkID uint32) {
	delete(p.chunks, chunkID)
	if p.hasOpen && p.openID == chunkID {
		p.hasOpen = false
	}
	if p.nextChunkID == chunkID+1 {
		p.nextChunkID = chunkID
	}
	if len(p.chunks) == 0 {
		delete(d.partitions, p.key)
	}
}

// RolloverPartition closes the open chunk of a partition and returns its id.
// The next write opens a new chunk.
func (d *Db) RolloverPartition(partitionKey string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.partitions[partitionKey]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionKey)
	}
	if !p.hasOpen {
		return 0, fmt.Errorf("%w: no open chunk in partition %s", ErrChunkNotFound, partitionKey)
	}
	p.hasOpen = false
	return p.openID, nil
}

// MoveChunkToReadBuffer copies every table of a closed mutable buffer chunk
// into the read buffer and drops the mutable copy. A chunk without rows is
// removed from the catalog instead.
func (d *Db) MoveChunkToReadBuffer(ctx context.Context, partitionKey string, chunkID uint32) error {
	logger := zerolog.Ctx(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, c, err := d.chunk(partitionKey, chunkID)
	if err != nil {
		return err
	}
	if c.tier != MutableBufferTier {
		return fmt.Errorf("%w: chunk %d is in the %s", ErrWrongTier, chunkID, c.tier)
	}
	if p.hasOpen && p.openID == chunkID {
		return fmt.Errorf("%w: %d in partition %s", ErrChunkNotClosed, chunkID, partitionKey)
	}

	if c.mb.IsEmpty() {
		d.dropChunk(p, chunkID)
		logger.Debug().Str("partition", partitionKey).Uint32("chunkID", chunkID).Msg("dropped empty chunk instead of moving it")
		return nil
	}

	stats, err := c.mb.TableStats()
	if err != nil {
		return mbError(err)
	}
	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for _, t := range stats {
		if recs, err = c.mb.TableToArrow(recs, t.Name, mutablebuffer.Selection{All: true}); err != nil {
			return mbError(err)
		}
	}

	err = d.rb.Write(func(db *readbuffer.Database) error {
		for i, rec := range recs {
			if err := db.UpsertPartition(partitionKey, chunkID, stats[i].Name, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rbError(chunkID, err)
	}

	c.tier, c.mb = ReadBufferTier, nil
	logger.Debug().Str("partition", partitionKey).Uint32("chunkID", chunkID).Int("tables", len(stats)).Msg("moved chunk to read buffer")
	return nil
}

// PersistChunk writes each table of a read buffer chunk to the datastore as
// a parquet file. The chunk stays queryable in the read buffer.
func (d *Db) PersistChunk(ctx context.Context, partitionKey string, chunkID uint32) error {
	logger := zerolog.Ctx(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	_, c, err := d.chunk(partitionKey, chunkID)
	if err != nil {
		return err
	}
	if c.tier != ReadBufferTier {
		return fmt.Errorf("%w: chunk %d is in the %s, move it to the read buffer first", ErrWrongTier, chunkID, c.tier)
	}

	type encoded struct {
		schema *arrow.Schema
		pa     *parquet_accumulator.ParquetSchemaAccumulator
		b      []byte
	}
	files := map[string]encoded{}
	err = d.rb.Read(func(db *readbuffer.Database) error {
		summaries, err := db.TableSummaries(partitionKey, chunkID)
		if err != nil {
			return err
		}
		for _, t := range summaries {
			schema, err := db.TableSchema(partitionKey, chunkID, t.Name)
			if err != nil {
				return err
			}
			recs, err := db.ReadFilter(partitionKey, t.Name, []uint32{chunkID}, readbuffer.Predicate{}, readbuffer.ColumnSelection{Columns: fieldNames(schema)})
			if err != nil {
				return err
			}
			pa, b, err := encodeParquet(schema, recs)
			for _, rec := range recs {
				rec.Release()
			}
			if err != nil {
				return fmt.Errorf("error encoding table %s: %w", t.Name, err)
			}
			files[t.Name] = encoded{schema: schema, pa: pa, b: b}
		}
		return nil
	})
	if err != nil {
		return rbError(chunkID, err)
	}

	if c.persisted == nil {
		c.persisted = make(map[string]*arrow.Schema, len(files))
	}
	for table, f := range files {
		if err = d.ds.WriteChunkFile(ctx, partitionKey, chunkID, table, f.b); err != nil {
			return fmt.Errorf("error in WriteChunkFile for table %s: %w", table, err)
		}
		err = d.ms.PutChunkFile(ctx, metastore.ChunkFile{
			PartitionKey: partitionKey,
			ChunkID:      chunkID,
			Table:        table,
			ColNames:     f.pa.GetColumnNames(),
			ColTypes:     f.pa.GetColumnTypes(),
			ColNullable:  f.pa.GetColumnNullable(),
			NumRows:      int64(f.pa.NumRows()),
			NumBytes:     int64(len(f.b)),
		})
		if err != nil {
			return fmt.Errorf("error in PutChunkFile for table %s: %w", table, err)
		}
		c.persisted[table] = f.schema
	}
	logger.Debug().Str("partition", partitionKey).Uint32("chunkID", chunkID).Int("tables", len(files)).Msg("persisted chunk")
	return nil
}

// UnloadChunk drops a persisted chunk from the read buffer. It stays listed
// as a parquet file chunk until loaded again.
func (d *Db) UnloadChunk(partitionKey string, chunkID uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, c, err := d.chunk(partitionKey, chunkID)
	if err != nil {
		return err
	}
	if c.tier != ReadBufferTier || len(c.persisted) == 0 {
		return fmt.Errorf("%w: chunk %d is in the %s and persisted=%t", ErrWrongTier, chunkID, c.tier, len(c.persisted) > 0)
	}
	err = d.rb.Write(func(db *readbuffer.Database) error {
		return db.DropChunk(partitionKey, chunkID)
	})
	if err != nil {
		return rbError(chunkID, err)
	}
	c.tier = ParquetFileTier
	return nil
}

// LoadParquetChunk reads one table of a persisted chunk back into the read
// buffer. The chunk is registered when the catalog does not know it yet.
func (d *Db) LoadParquetChunk(ctx context.Context, partitionKey string, chunkID uint32, table string, schema *arrow.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.partitions[partitionKey]; ok {
		if c, ok := p.chunks[chunkID]; ok && c.tier == MutableBufferTier {
			return fmt.Errorf("%w: chunk %d is in the %s", ErrWrongTier, chunkID, c.tier)
		}
	}

	pf, err := d.ds.GetChunkFile(ctx, partitionKey, chunkID, table)
	if err != nil {
		return fmt.Errorf("error in GetChunkFile: %w", err)
	}
	defer pf.Close()

	rec, err := parquet_accumulator.ReadRecord(pf, schema, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArrowConversion, err)
	}
	defer rec.Release()

	err = d.rb.Write(func(db *readbuffer.Database) error {
		if _, err := db.TableSchema(partitionKey, chunkID, table); err == nil {
			return fmt.Errorf("%w: table %s", ErrAlreadyLoaded, table)
		}
		return db.UpsertPartition(partitionKey, chunkID, table, rec)
	})
	if err != nil {
		return rbError(chunkID, err)
	}

	p, ok := d.partitions[partitionKey]
	if !ok {
		p = &partitionState{key: partitionKey, chunks: make(map[uint32]*chunkState)}
		d.partitions[partitionKey] = p
	}
	c, ok := p.chunks[chunkID]
	if !ok {
		c = &chunkState{id: chunkID}
		p.chunks[chunkID] = c
	}
	if chunkID >= p.nextChunkID {
		p.nextChunkID = chunkID + 1
	}
	c.tier = ReadBufferTier
	if c.persisted == nil {
		c.persisted = make(map[string]*arrow.Schema)
	}
	c.persisted[table] = schema
	zerolog.Ctx(ctx).Debug().Str("partition", partitionKey).Uint32("chunkID", chunkID).Str("table", table).Int64("rows", rec.NumRows()).Msg("loaded parquet chunk")
	return nil
}

// LoadPersistedChunk reloads every table persisted for an unloaded chunk.
func (d *Db) LoadPersistedChunk(ctx context.Context, partitionKey string, chunkID uint32) error {
	d.mu.RLock()
	_, c, err := d.chunk(partitionKey, chunkID)
	if err != nil {
		d.mu.RUnlock()
		return err
	}
	if c.tier != ParquetFileTier {
		d.mu.RUnlock()
		return fmt.Errorf("%w: chunk %d is in the %s", ErrWrongTier, chunkID, c.tier)
	}
	schemas := make(map[string]*arrow.Schema, len(c.persisted))
	for table, schema := range c.persisted {
		schemas[table] = schema
	}
	d.mu.RUnlock()

	tables := make([]string, 0, len(schemas))
	for table := range schemas {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		if err = d.LoadParquetChunk(ctx, partitionKey, chunkID, table, schemas[table]); err != nil {
			return fmt.Errorf("error in LoadParquetChunk for table %s: %w", table, err)
		}
	}
	return nil
}

// Restore lists the chunk files recorded in the metastore as parquet file
// chunks, ready for LoadPersistedChunk. Chunks the catalog already knows are
// left alone. It returns how many chunks were registered.
func (d *Db) Restore(ctx context.Context) (int, error) {
	logger := zerolog.Ctx(ctx)

	files, err := d.ms.ListChunkFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("error in ListChunkFiles: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	restored := map[*chunkState]struct{}{}
	for _, f := range files {
		schema, err := parquet_accumulator.SchemaFromColumns(f.ColNames, f.ColTypes, f.ColNullable)
		if err != nil {
			return len(restored), fmt.Errorf("error in SchemaFromColumns for %s: %w", datastore.ChunkFilePath(f.PartitionKey, f.ChunkID, f.Table), err)
		}
		p, ok := d.partitions[f.PartitionKey]
		if !ok {
			p = &partitionState{key: f.PartitionKey, chunks: make(map[uint32]*chunkState)}
			d.partitions[f.PartitionKey] = p
		}
		c, ok := p.chunks[f.ChunkID]
		if !ok {
			c = &chunkState{id: f.ChunkID, tier: ParquetFileTier, persisted: make(map[string]*arrow.Schema)}
			p.chunks[f.ChunkID] = c
			restored[c] = struct{}{}
		}
		if _, ok := restored[c]; !ok {
			continue
		}
		c.persisted[f.Table] = schema
		if f.ChunkID >= p.nextChunkID {
			p.nextChunkID = f.ChunkID + 1
		}
	}
	logger.Debug().Int("files", len(files)).Int("chunks", len(restored)).Msg("restored chunks from metastore")
	return len(restored), nil
}

func (d *Db) PartitionKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.partitionKeys()
}

// Chunks returns a handle for every chunk of a partition, ordered by id.
func (d *Db) Chunks(partitionKey string) ([]*DBChunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.partitions[partitionKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionKey)
	}
	return d.dbChunks(p), nil
}

// ChunkSummaries lists every chunk of every partition.
func (d *Db) ChunkSummaries() []ChunkSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []ChunkSummary
	for _, key := range d.partitionKeys() {
		p := d.partitions[key]
		for _, id := range p.chunkIDs() {
			c := p.chunks[id]
			summary := ChunkSummary{
				PartitionKey: key,
				ID:           id,
				Tier:         c.tier.String(),
				Open:         p.hasOpen && p.openID == id,
			}
			for table := range c.persisted {
				summary.Persisted = append(summary.Persisted, table)
			}
			sort.Strings(summary.Persisted)
			out = append(out, summary)
		}
	}
	return out
}

// TableProvider unifies every queryable chunk holding table, in partition key
// then chunk id order. Parquet file chunks are skipped until loaded.
func (d *Db) TableProvider(ctx context.Context, table string) (*query.ChunkTableProvider, error) {
	logger := zerolog.Ctx(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	builder := query.NewProviderBuilder(table)
	for _, key := range d.partitionKeys() {
		for _, chunk := range d.dbChunks(d.partitions[key]) {
			if chunk.Tier() == ParquetFileTier {
				logger.Debug().Str("partition", key).Uint32("chunkID", chunk.ID()).Msg("skipping unloaded parquet chunk")
				continue
			}
			schema, err := chunk.TableSchema(table)
			if errors.Is(err, mutablebuffer.ErrTableNotFound) || errors.Is(err, readbuffer.ErrTableNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if builder, err = builder.AddChunk(chunk, schema); err != nil {
				return nil, err
			}
		}
	}
	return builder.Build()
}

// TableNames runs the names plan of every queryable chunk and returns the
// sorted union.
func (d *Db) TableNames(ctx context.Context, pred *predicate.Predicate) ([]string, error) {
	d.mu.RLock()
	var chunks []*DBChunk
	for _, key := range d.partitionKeys() {
		chunks = append(chunks, d.dbChunks(d.partitions[key])...)
	}
	d.mu.RUnlock()

	found := map[string]struct{}{}
	for _, chunk := range chunks {
		if chunk.Tier() == ParquetFileTier {
			continue
		}
		plan, err := chunk.TableNames(ctx, pred)
		if err != nil {
			return nil, err
		}
		batches, err := plan.Execute(ctx)
		if err != nil {
			return nil, fmt.Errorf("error executing table names plan for chunk %d: %w", chunk.ID(), err)
		}
		for _, batch := range batches {
			if col, ok := batch.Column(0).(*array.String); ok {
				for i := 0; i < col.Len(); i++ {
					found[col.Value(i)] = struct{}{}
				}
			}
			batch.Release()
		}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// partitionKeys must be called with mu held
func (d *Db) partitionKeys() []string {
	keys := make([]string, 0, len(d.partitions))
	for key := range d.partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// dbChunks must be called with mu held
func (d *Db) dbChunks(p *partitionState) []*DBChunk {
	out := make([]*DBChunk, 0, len(p.chunks))
	for _, id := range p.chunkIDs() {
		c := p.chunks[id]
		switch c.tier {
		case MutableBufferTier:
			out = append(out, NewMBChunk(p.key, c.mb))
		case ReadBufferTier:
			out = append(out, NewRBChunk(d.rb, p.key, id))
		default:
			out = append(out, NewParquetFileChunk(p.key, id))
		}
	}
	return out
}

// chunk must be called with mu held
func (d *Db) chunk(partitionKey string, chunkID uint32) (*partitionState, *chunkState, error) {
	p, ok := d.partitions[partitionKey]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionKey)
	}
	c, ok := p.chunks[chunkID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d in partition %s", ErrChunkNotFound, chunkID, partitionKey)
	}
	return p, c, nil
}

func (p *partitionState) chunkIDs() []uint32 {
	ids := make([]uint32, 0, len(p.chunks))
	for id := range p.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}

func encodeParquet(schema *arrow.Schema, recs []arrow.Record) (*parquet_accumulator.ParquetSchemaAccumulator, []byte, error) {
	pa, err := parquet_accumulator.NewParquetAccumulator(schema)
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range recs {
		if err = pa.WriteRecord(rec); err != nil {
			return nil, nil, err
		}
	}
	b, err := pa.Encode()
	return pa, b, err
}
