package mutablebuffer

import (
	"fmt"

	"github.com/danthegoodman1/icetier/predicate"
)

type (
	// ChunkPredicate is a predicate resolved against one chunk. It is only
	// valid for the chunk that compiled it.
	ChunkPredicate struct {
		chunkID uint32
		// nil means no restriction
		tableNames   map[string]struct{}
		fieldColumns map[string]struct{}
		exprs        []predicate.Expr
		rng          *predicate.TimestampRange
	}
)

// CompilePredicate checks pred against what this chunk can evaluate. A nil
// predicate compiles to one that matches everything.
func (c *Chunk) CompilePredicate(pred *predicate.Predicate) (*ChunkPredicate, error) {
	cp := &ChunkPredicate{chunkID: c.id}
	if pred == nil {
		return cp, nil
	}

	if pred.TableNames != nil {
		cp.tableNames = make(map[string]struct{}, len(pred.TableNames))
		for _, name := range pred.TableNames {
			cp.tableNames[name] = struct{}{}
		}
	}
	if pred.FieldColumns != nil {
		cp.fieldColumns = make(map[string]struct{}, len(pred.FieldColumns))
		for _, name := range pred.FieldColumns {
			cp.fieldColumns[name] = struct{}{}
		}
	}
	for _, expr := range pred.Exprs {
		if !expr.Op.Valid() {
			return nil, fmt.Errorf("%w: operator %q in %s", ErrUnsupportedPredicate, expr.Op, expr)
		}
		v, err := normalizeValue(expr.Value)
		if err != nil || v == nil {
			return nil, fmt.Errorf("%w: literal %v in %s", ErrUnsupportedPredicate, expr.Value, expr)
		}
		expr.Value = v
		cp.exprs = append(cp.exprs, expr)
	}
	if pred.Range != nil {
		if pred.Range.End < pred.Range.Start {
			return nil, fmt.Errorf("%w: range end %d before start %d", ErrUnsupportedPredicate, pred.Range.End, pred.Range.Start)
		}
		r := *pred.Range
		cp.rng = &r
	}
	return cp, nil
}

// TableNames returns the sorted names of tables with at least one row
// matching cp.
func (c *Chunk) TableNames(cp *ChunkPredicate) ([]string, error) {
	if cp == nil {
		return nil, fmt.Errorf("%w: nil predicate", ErrUnsupportedPredicate)
	}
	if cp.chunkID != c.id {
		return nil, fmt.Errorf("%w: compiled for %d, used on %d", ErrPredicateChunkMismatch, cp.chunkID, c.id)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for _, name := range c.tableNames() {
		if cp.tableNames != nil {
			if _, ok := cp.tableNames[name]; !ok {
				continue
			}
		}
		if c.tables[name].matches(cp) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (t *table) matches(cp *ChunkPredicate) bool {
	if t.rows == 0 {
		return false
	}
	if cp.fieldColumns != nil {
		found := false
		for name := range cp.fieldColumns {
			if _, ok := t.columns[name]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(cp.exprs) == 0 && cp.rng == nil {
		return true
	}

	var timeCol *column
	if cp.rng != nil {
		var ok bool
		if timeCol, ok = t.columns[predicate.TimeColumn]; !ok {
			return false
		}
	}
	exprCols := make([]*column, len(cp.exprs))
	for i, expr := range cp.exprs {
		col, ok := t.columns[expr.Column]
		if !ok {
			return false
		}
		exprCols[i] = col
	}

Rows:
	for row := 0; row < t.rows; row++ {
		if timeCol != nil && !cp.rng.ContainsValue(timeCol.values[row]) {
			continue
		}
		for i, expr := range cp.exprs {
			if !expr.Matches(exprCols[i].values[row]) {
				continue Rows
			}
		}
		return true
	}
	return false
}
