// Package selection describes which columns of a table a caller wants,
// independent of the storage tier that will produce them.
package selection

import (
	"fmt"
	"strings"
)

type (
	// Selection is either every column (sorted lexicographically by name) or
	// an ordered list of column names. The zero value selects every column.
	Selection struct {
		some    bool
		columns []string
	}
)

// All selects every column, like SELECT *. Columns come back sorted by name.
func All() Selection {
	return Selection{}
}

// Some selects only the named columns, in the given order. The slice is
// borrowed, not copied, and is neither deduplicated nor validated. An empty
// slice selects zero columns.
func Some(columns []string) Selection {
	return Selection{some: true, columns: columns}
}

func (s Selection) IsAll() bool {
	return !s.some
}

// Columns returns the requested names, or nil for All.
func (s Selection) Columns() []string {
	if !s.some {
		return nil
	}
	return s.columns
}

func (s Selection) String() string {
	if !s.some {
		return "All"
	}
	return fmt.Sprintf("Some(%s)", strings.Join(s.columns, ", "))
}
