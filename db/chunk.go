// Package db routes chunk operations to the storage tier each chunk lives in
// and keeps the catalog of partitions and their chunks.
package db

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/mutablebuffer"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/query"
	"github.com/danthegoodman1/icetier/readbuffer"
	"github.com/danthegoodman1/icetier/selection"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/rs/zerolog"
)

type (
	Tier int

	// MutableChunk is the part of a mutable buffer chunk the dispatcher uses.
	MutableChunk interface {
		ID() uint32
		IsEmpty() bool
		TableStats() ([]part.Table, error)
		TableSchema(tableName string) (*arrow.Schema, error)
		TableToArrow(dst []arrow.Record, tableName string, sel mutablebuffer.Selection) ([]arrow.Record, error)
		CompilePredicate(pred *predicate.Predicate) (*mutablebuffer.ChunkPredicate, error)
		TableNames(cp *mutablebuffer.ChunkPredicate) ([]string, error)
	}

	// DBChunk is a chunk in exactly one tier. The tier never changes after
	// construction, only the fields for that tier are set.
	DBChunk struct {
		tier         Tier
		partitionKey string
		chunkID      uint32

		mb MutableChunk
		rb *readbuffer.Handle
	}
)

const (
	MutableBufferTier Tier = iota
	ReadBufferTier
	ParquetFileTier
)

const namesColumn = "tables"

var _ query.PartitionChunk = (*DBChunk)(nil)

func (t Tier) String() string {
	switch t {
	case MutableBufferTier:
		return "mutable buffer"
	case ReadBufferTier:
		return "read buffer"
	case ParquetFileTier:
		return "parquet file"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func NewMBChunk(partitionKey string, chunk MutableChunk) *DBChunk {
	return &DBChunk{
		tier:         MutableBufferTier,
		partitionKey: partitionKey,
		chunkID:      chunk.ID(),
		mb:           chunk,
	}
}

func NewRBChunk(rb *readbuffer.Handle, partitionKey string, chunkID uint32) *DBChunk {
	return &DBChunk{
		tier:         ReadBufferTier,
		partitionKey: partitionKey,
		chunkID:      chunkID,
		rb:           rb,
	}
}

// NewParquetFileChunk stands for a chunk that only exists as parquet files.
// Queries against it are not supported yet.
func NewParquetFileChunk(partitionKey string, chunkID uint32) *DBChunk {
	return &DBChunk{
		tier:         ParquetFileTier,
		partitionKey: partitionKey,
		chunkID:      chunkID,
	}
}

func (c *DBChunk) Tier() Tier {
	return c.tier
}

func (c *DBChunk) PartitionKey() string {
	return c.partitionKey
}

// ID is the id the chunk was created with. It is the one operation a parquet
// file chunk answers, every other one fails with ErrUnimplemented.
func (c *DBChunk) ID() uint32 {
	if c.tier == MutableBufferTier {
		return c.mb.ID()
	}
	return c.chunkID
}

func (c *DBChunk) TableStats() ([]part.Table, error) {
	switch c.tier {
	case MutableBufferTier:
		stats, err := c.mb.TableStats()
		if err != nil {
			return nil, mbError(err)
		}
		return stats, nil
	case ReadBufferTier:
		var stats []part.Table
		err := c.rb.Read(func(db *readbuffer.Database) (err error) {
			stats, err = db.TableSummaries(c.partitionKey, c.chunkID)
			return
		})
		if err != nil {
			return nil, rbError(c.chunkID, err)
		}
		return stats, nil
	default:
		return nil, c.unimplemented("TableStats")
	}
}

// TableSchema is the schema TableToArrow produces for tableName with every
// column selected.
func (c *DBChunk) TableSchema(tableName string) (*arrow.Schema, error) {
	switch c.tier {
	case MutableBufferTier:
		schema, err := c.mb.TableSchema(tableName)
		if err != nil {
			return nil, mbError(err)
		}
		return schema, nil
	case ReadBufferTier:
		var schema *arrow.Schema
		err := c.rb.Read(func(db *readbuffer.Database) (err error) {
			schema, err = db.TableSchema(c.partitionKey, c.chunkID, tableName)
			return
		})
		if err != nil {
			return nil, rbError(c.chunkID, err)
		}
		return arrow.NewSchema(utils.SortedFields(schema), nil), nil
	default:
		return nil, c.unimplemented("TableSchema")
	}
}

func (c *DBChunk) TableToArrow(dst []arrow.Record, tableName string, sel selection.Selection) ([]arrow.Record, error) {
	switch c.tier {
	case MutableBufferTier:
		out, err := c.mb.TableToArrow(dst, tableName, toMutableBufferSelection(sel))
		if err != nil {
			return dst, mbError(err)
		}
		return out, nil
	case ReadBufferTier:
		// TODO: push the scan predicate down once ChunkTableProvider.Scan hands
		// filters to the chunks, until then every row is read.
		pred, err := toReadBufferPredicate(nil)
		if err != nil {
			return dst, rbError(c.chunkID, err)
		}
		var recs []arrow.Record
		err = c.rb.Read(func(db *readbuffer.Database) (err error) {
			recs, err = db.ReadFilter(c.partitionKey, tableName, []uint32{c.chunkID}, pred, toReadBufferSelection(sel))
			return
		})
		if err != nil {
			return dst, rbError(c.chunkID, err)
		}
		return append(dst, recs...), nil
	default:
		return dst, c.unimplemented("TableToArrow")
	}
}

// TableNames looks the names up now and returns a plan that replays them as a
// single "tables" column.
func (c *DBChunk) TableNames(ctx context.Context, pred *predicate.Predicate) (query.Plan, error) {
	logger := zerolog.Ctx(ctx)

	switch c.tier {
	case MutableBufferTier:
		names := []string{}
		if !c.mb.IsEmpty() {
			cp, err := c.mb.CompilePredicate(pred)
			if err != nil {
				return nil, mbError(err)
			}
			if names, err = c.mb.TableNames(cp); err != nil {
				return nil, mbError(err)
			}
		}
		logger.Debug().Uint32("chunkID", c.chunkID).Int("tables", len(names)).Msg("mutable buffer table names")
		return namesPlan(names)
	case ReadBufferTier:
		rbPred, err := toReadBufferPredicate(pred)
		if err != nil {
			return nil, err
		}
		var batch arrow.Record
		err = c.rb.Read(func(db *readbuffer.Database) (err error) {
			batch, err = db.TableNames(c.partitionKey, []uint32{c.chunkID}, rbPred)
			return
		})
		if err != nil {
			return nil, rbError(c.chunkID, err)
		}
		logger.Debug().Uint32("chunkID", c.chunkID).Int64("tables", batch.NumRows()).Msg("read buffer table names")
		plan, err := query.MakeScanPlan(batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArrowConversion, err)
		}
		return plan, nil
	default:
		return nil, c.unimplemented("TableNames")
	}
}

func (c *DBChunk) unimplemented(op string) error {
	return fmt.Errorf("%w: %s on %s chunk %d", ErrUnimplemented, op, c.tier, c.chunkID)
}

func namesPlan(names []string) (query.Plan, error) {
	batch, err := utils.StringsToBatch(namesColumn, names)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArrowConversion, err)
	}
	plan, err := query.MakeScanPlan(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArrowConversion, err)
	}
	return plan, nil
}
