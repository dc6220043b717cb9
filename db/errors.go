package db

import (
	"errors"
	"fmt"
)

var (
	ErrUnimplemented       = errors.New("not implemented for this chunk tier")
	ErrPredicateConversion = errors.New("error converting predicate")
	ErrArrowConversion     = errors.New("error converting to arrow")
	ErrPartitionNotFound   = errors.New("partition not found")
	ErrChunkNotFound       = errors.New("chunk not found")
	ErrChunkNotClosed      = errors.New("chunk is still open for writes")
	ErrWrongTier           = errors.New("chunk is not in the tier this operation needs")
	ErrAlreadyLoaded       = errors.New("chunk table already loaded in the read buffer")
)

// TierError is a failure reported by the storage tier a chunk lives in.
type TierError struct {
	Tier       Tier
	ChunkID    uint32
	HasChunkID bool
	Err        error
}

func (e *TierError) Error() string {
	switch e.Tier {
	case MutableBufferTier:
		return fmt.Sprintf("mutable buffer chunk error: %s", e.Err)
	case ReadBufferTier:
		if e.HasChunkID {
			return fmt.Sprintf("read buffer error in chunk %d: %s", e.ChunkID, e.Err)
		}
		return fmt.Sprintf("read buffer error: %s", e.Err)
	default:
		return fmt.Sprintf("%s chunk error: %s", e.Tier, e.Err)
	}
}

func (e *TierError) Unwrap() error {
	return e.Err
}

func mbError(err error) error {
	return &TierError{Tier: MutableBufferTier, Err: err}
}

func rbError(chunkID uint32, err error) error {
	return &TierError{Tier: ReadBufferTier, ChunkID: chunkID, HasChunkID: true, Err: err}
}
