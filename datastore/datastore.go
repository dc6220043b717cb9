package datastore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/danthegoodman1/icetier/gologger"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/xitongsys/parquet-go/source"
)

var (
	logger = gologger.ForComponent("datastore")

	ErrFileNotFound     = errors.New("chunk file not found")
	ErrUnknownDataStore = errors.New("unknown datastore")
)

type (
	// DataStore holds the parquet files of persisted chunks, one file per
	// partition, chunk and table.
	DataStore interface {
		// GetChunkFile opens a persisted chunk file for reading. The caller closes it.
		GetChunkFile(ctx context.Context, partitionKey string, chunkID uint32, table string) (source.ParquetFile, error)

		// WriteChunkFile stores an encoded parquet file, replacing any previous one.
		WriteChunkFile(ctx context.Context, partitionKey string, chunkID uint32, table string, b []byte) error

		Shutdown(ctx context.Context) error
	}
)

// ChunkFilePath is where a chunk's table lives relative to the store root.
func ChunkFilePath(partitionKey string, chunkID uint32, table string) string {
	return path.Join(partitionKey, strconv.FormatUint(uint64(chunkID), 10), table+".parquet")
}

// FromEnv builds the store selected by DATASTORE.
func FromEnv() (DataStore, error) {
	switch utils.DATASTORE {
	case "disk":
		return NewDiskDataStore(utils.DATA_DIR)
	case "s3":
		return NewS3DataStore(S3Config{
			Bucket:   utils.S3_BUCKET_NAME,
			Endpoint: utils.S3_ENDPOINT,
			Region:   utils.AWS_DEFAULT_REGION,

			AccessKeyID:     utils.AWS_ACCESS_KEY_ID,
			SecretAccessKey: utils.AWS_SECRET_ACCESS_KEY,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataStore, utils.DATASTORE)
	}
}
