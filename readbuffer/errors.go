package readbuffer

import "errors"

var (
	ErrPartitionNotFound = errors.New("partition not found")
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrTableNotFound     = errors.New("table not found")
	ErrColumnNotFound    = errors.New("column not found")
	ErrSchemaMismatch    = errors.New("record schema does not match table schema")
)
