package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/icetier/db"
	"github.com/rs/zerolog"
)

type (
	// Partition keys hold `/` and `=`, so they travel in the body rather than the path.
	PartitionReqBody struct {
		Partition string `validate:"required"`
	}

	ChunkReqBody struct {
		Partition string  `validate:"required"`
		ChunkID   *uint32 `validate:"required"`
	}

	RolloverRes struct {
		Partition string
		ChunkID   uint32
	}

	ListChunksRes struct {
		Chunks []db.ChunkSummary
	}
)

func (s *HTTPServer) ListChunks(c *CustomContext) error {
	chunks := s.DB.ChunkSummaries()
	if chunks == nil {
		chunks = []db.ChunkSummary{}
	}
	return c.JSON(http.StatusOK, ListChunksRes{Chunks: chunks})
}

func (s *HTTPServer) RolloverPartition(c *CustomContext) error {
	var reqBody PartitionReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	id, err := s.DB.RolloverPartition(reqBody.Partition)
	if err != nil {
		return c.DBError(err, "error rolling over partition")
	}
	return c.JSON(http.StatusOK, RolloverRes{Partition: reqBody.Partition, ChunkID: id})
}

func (s *HTTPServer) MoveChunk(c *CustomContext) error {
	return s.chunkOp(c, "moved chunk to read buffer", s.DB.MoveChunkToReadBuffer)
}

func (s *HTTPServer) PersistChunk(c *CustomContext) error {
	return s.chunkOp(c, "persisted chunk", s.DB.PersistChunk)
}

func (s *HTTPServer) UnloadChunk(c *CustomContext) error {
	return s.chunkOp(c, "unloaded chunk", func(_ context.Context, partitionKey string, chunkID uint32) error {
		return s.DB.UnloadChunk(partitionKey, chunkID)
	})
}

func (s *HTTPServer) LoadChunk(c *CustomContext) error {
	return s.chunkOp(c, "loaded chunk", s.DB.LoadPersistedChunk)
}

// chunkOp runs a lifecycle step on the chunk named in the body and answers
// with the chunk's summary.
func (s *HTTPServer) chunkOp(c *CustomContext, msg string, op func(ctx context.Context, partitionKey string, chunkID uint32) error) error {
	var reqBody ChunkReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()
	logger := zerolog.Ctx(ctx)

	start := time.Now()
	if err := op(ctx, reqBody.Partition, *reqBody.ChunkID); err != nil {
		return c.DBError(err, "error in chunk operation")
	}
	logger.Debug().Str("partition", reqBody.Partition).Uint32("chunkID", *reqBody.ChunkID).Msgf("%s in %s", msg, time.Since(start))

	for _, summary := range s.DB.ChunkSummaries() {
		if summary.PartitionKey == reqBody.Partition && summary.ID == *reqBody.ChunkID {
			return c.JSON(http.StatusOK, summary)
		}
	}
	return c.NoContent(http.StatusOK)
}
