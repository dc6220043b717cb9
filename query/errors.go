package query

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
)

var (
	ErrNoRowsInTable      = errors.New("no rows found in table")
	ErrPlanConstruction   = errors.New("internal error creating plan")
	ErrInvalidProjection  = errors.New("projection index out of range")
	ErrSchemaIncompatible = errors.New("chunk schema not compatible")
)

// SchemaIncompatibleError is returned when a chunk's schema differs from the
// schema already established for its table. They must be identical.
type SchemaIncompatibleError struct {
	TableName string
	Existing  *arrow.Schema
	New       *arrow.Schema
}

func (e *SchemaIncompatibleError) Error() string {
	return fmt.Sprintf("chunk schema not compatible for table %s, they must be identical. Existing: %s, New: %s", e.TableName, e.Existing, e.New)
}

func (e *SchemaIncompatibleError) Is(target error) bool {
	return target == ErrSchemaIncompatible
}
