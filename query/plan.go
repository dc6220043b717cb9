package query

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/selection"
	"github.com/rs/zerolog"
)

type (
	// Plan is a computation that has not run yet. Records returned by Execute
	// belong to the caller, who should Release them.
	Plan interface {
		Schema() *arrow.Schema
		Execute(ctx context.Context) ([]arrow.Record, error)
	}

	// LiteralPlan scans batches that were already materialized.
	LiteralPlan struct {
		schema  *arrow.Schema
		batches []arrow.Record
	}

	// TableScanPlan pulls every chunk of a table in insertion order.
	TableScanPlan struct {
		tableName string
		schema    *arrow.Schema
		selection selection.Selection
		chunks    []PartitionChunk
		batchSize int
		// Filters are not pushed into the chunks, the scan is inexact and the
		// consumer has to apply them again.
		Filters []predicate.Expr
	}
)

// MakeScanPlan lifts a literal batch into a plan.
func MakeScanPlan(batch arrow.Record) (*LiteralPlan, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: nil batch", ErrPlanConstruction)
	}
	return &LiteralPlan{
		schema:  batch.Schema(),
		batches: []arrow.Record{batch},
	}, nil
}

func (p *LiteralPlan) Schema() *arrow.Schema {
	return p.schema
}

func (p *LiteralPlan) Execute(ctx context.Context) ([]arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]arrow.Record, len(p.batches))
	for i, b := range p.batches {
		b.Retain()
		out[i] = b
	}
	return out, nil
}

func (p *TableScanPlan) Schema() *arrow.Schema {
	return p.schema
}

func (p *TableScanPlan) TableName() string {
	return p.tableName
}

func (p *TableScanPlan) Selection() selection.Selection {
	return p.selection
}

func (p *TableScanPlan) Execute(ctx context.Context) ([]arrow.Record, error) {
	logger := zerolog.Ctx(ctx)
	s := time.Now()

	var batches []arrow.Record
	for _, chunk := range p.chunks {
		if err := ctx.Err(); err != nil {
			releaseAll(batches)
			return nil, err
		}
		var err error
		batches, err = chunk.TableToArrow(batches, p.tableName, p.selection)
		if err != nil {
			releaseAll(batches)
			return nil, fmt.Errorf("error in TableToArrow for chunk %d of table %s: %w", chunk.ID(), p.tableName, err)
		}
	}

	batches = rebatch(batches, p.batchSize)
	logger.Debug().Str("table", p.tableName).Int("chunks", len(p.chunks)).Int("batches", len(batches)).Str("selection", p.selection.String()).Msgf("scanned table in %s", time.Since(s))
	return batches, nil
}

// rebatch slices batches longer than size, keeping row order.
func rebatch(batches []arrow.Record, size int) []arrow.Record {
	if size <= 0 {
		return batches
	}
	out := make([]arrow.Record, 0, len(batches))
	for _, b := range batches {
		n := b.NumRows()
		if n <= int64(size) {
			out = append(out, b)
			continue
		}
		for i := int64(0); i < n; i += int64(size) {
			out = append(out, b.NewSlice(i, min(i+int64(size), n)))
		}
		b.Release()
	}
	return out
}

func releaseAll(batches []arrow.Record) {
	for _, b := range batches {
		b.Release()
	}
}
