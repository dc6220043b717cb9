// Package query presents chunks from every storage tier to a query planner
// as one logical table.
package query

import (
	"context"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/danthegoodman1/icetier/part"
	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/selection"
)

type (
	// PartitionChunk is what a chunk from any storage tier must provide to
	// take part in a unified table.
	PartitionChunk interface {
		// ID is unique within the owning partition, not globally. It cannot
		// fail, so unlike every other method it also answers for chunks whose
		// tier is not queryable yet, returning the id they were created with.
		ID() uint32

		// TableStats returns the summaries the tier can produce without a scan.
		TableStats() ([]part.Table, error)

		// TableToArrow appends the batches of tableName matching sel to dst and
		// returns the extended slice. Existing entries of dst are left as is.
		// All orders columns by name, Some keeps the requested order.
		TableToArrow(dst []arrow.Record, tableName string, sel selection.Selection) ([]arrow.Record, error)

		// TableNames returns a plan that yields the matching table names when
		// executed, rather than the names themselves.
		TableNames(ctx context.Context, pred *predicate.Predicate) (Plan, error)
	}
)
