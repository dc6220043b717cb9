package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/danthegoodman1/icetier/utils"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
)

type (
	DiskDataStore struct {
		rootPath string
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
	}

	return dds, nil
}

func (dds *DiskDataStore) filePath(partitionKey string, chunkID uint32, table string) string {
	return filepath.Join(dds.rootPath, filepath.FromSlash(ChunkFilePath(partitionKey, chunkID, table)))
}

func (dds *DiskDataStore) GetChunkFile(_ context.Context, partitionKey string, chunkID uint32, table string) (source.ParquetFile, error) {
	fileName := dds.filePath(partitionKey, chunkID, table)
	if _, err := os.Stat(fileName); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileName)
	} else if err != nil {
		return nil, fmt.Errorf("error in os.Stat: %w", err)
	}
	f, err := local.NewLocalFileReader(fileName)
	if err != nil {
		return nil, fmt.Errorf("error in local.NewLocalFileReader: %w", err)
	}
	return f, nil
}

// WriteChunkFile writes to a temporary file next to the target and renames it
// into place, so readers never see a partial file.
func (dds *DiskDataStore) WriteChunkFile(ctx context.Context, partitionKey string, chunkID uint32, table string, b []byte) error {
	fileName := dds.filePath(partitionKey, chunkID, table)
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	tmpName := fileName + "." + utils.GenShortID() + ".tmp"
	if err := os.WriteFile(tmpName, b, 0o644); err != nil {
		return fmt.Errorf("error in os.WriteFile: %w", err)
	}
	if err := os.Rename(tmpName, fileName); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	logger.Debug().Str("file", fileName).Int("bytes", len(b)).Msg("wrote chunk file")
	return nil
}

func (dds *DiskDataStore) Shutdown(context.Context) error {
	return nil
}
