package metastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danthegoodman1/icetier/gologger"
)

var (
	logger = gologger.ForComponent("metastore")
)

type (
	// MetaStore remembers which chunk files were persisted so a restarted
	// process can list them as parquet file chunks again.
	MetaStore interface {
		// PutChunkFile records a persisted chunk file, replacing any previous
		// record for the same partition, chunk and table.
		PutChunkFile(ctx context.Context, f ChunkFile) error

		// ListChunkFiles returns every record ordered by partition, chunk and table.
		ListChunkFiles(ctx context.Context) ([]ChunkFile, error)

		Shutdown(ctx context.Context) error
	}

	ChunkFile struct {
		PartitionKey string
		ChunkID      uint32
		Table        string

		// ColNames, ColTypes and ColNullable describe the file's columns in order
		ColNames    []string
		ColTypes    []string
		ColNullable []bool

		NumRows   int64
		NumBytes  int64
		CreatedAt time.Time
	}

	chunkFileKey struct {
		partitionKey string
		chunkID      uint32
		table        string
	}

	// MemoryMetaStore keeps records for the life of the process.
	MemoryMetaStore struct {
		mu    sync.Mutex
		files map[chunkFileKey]ChunkFile
	}
)

func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{files: make(map[chunkFileKey]ChunkFile)}
}

func (m *MemoryMetaStore) PutChunkFile(_ context.Context, f ChunkFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	m.files[chunkFileKey{f.PartitionKey, f.ChunkID, f.Table}] = f
	return nil
}

func (m *MemoryMetaStore) ListChunkFiles(_ context.Context) ([]ChunkFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make([]ChunkFile, 0, len(m.files))
	for _, f := range m.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.PartitionKey != b.PartitionKey {
			return a.PartitionKey < b.PartitionKey
		}
		if a.ChunkID != b.ChunkID {
			return a.ChunkID < b.ChunkID
		}
		return a.Table < b.Table
	})
	return files, nil
}

func (m *MemoryMetaStore) Shutdown(context.Context) error {
	return nil
}
