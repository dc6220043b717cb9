package mutablebuffer

import "errors"

var (
	ErrTableNotFound          = errors.New("table not found in chunk")
	ErrColumnNotFound         = errors.New("column not found in table")
	ErrColumnTypeMismatch     = errors.New("column type mismatch")
	ErrUnsupportedValue       = errors.New("unsupported column value")
	ErrUnsupportedPredicate   = errors.New("unsupported predicate")
	ErrPredicateChunkMismatch = errors.New("predicate was compiled for a different chunk")
	ErrNotFlatMap             = errors.New("not a flat map")
)
