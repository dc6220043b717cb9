package metastore

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icetier/crdb"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

type (
	// CRDBMetaStore keeps chunk file records in the chunk_files table created
	// by the migrations package.
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

func NewCRDBMetaStore(pool *pgxpool.Pool) *CRDBMetaStore {
	return &CRDBMetaStore{pool: pool}
}

func (cms *CRDBMetaStore) PutChunkFile(ctx context.Context, f ChunkFile) error {
	logger := zerolog.Ctx(ctx)
	err := crdb.ReliableExecInTx(ctx, cms.pool, crdb.StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunk_files (partition_key, chunk_id, table_name, col_names, col_types, col_nullable, num_rows, num_bytes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (partition_key, chunk_id, table_name) DO UPDATE SET
				col_names = excluded.col_names,
				col_types = excluded.col_types,
				col_nullable = excluded.col_nullable,
				num_rows = excluded.num_rows,
				num_bytes = excluded.num_bytes,
				created_at = now()
		`, f.PartitionKey, int64(f.ChunkID), f.Table, f.ColNames, f.ColTypes, f.ColNullable, f.NumRows, f.NumBytes)
		return err
	})
	if err != nil {
		return fmt.Errorf("error upserting chunk file %s/%d/%s: %w", f.PartitionKey, f.ChunkID, f.Table, err)
	}
	logger.Debug().Str("partition", f.PartitionKey).Uint32("chunkID", f.ChunkID).Str("table", f.Table).Msg("recorded chunk file")
	return nil
}

func (cms *CRDBMetaStore) ListChunkFiles(ctx context.Context) ([]ChunkFile, error) {
	var files []ChunkFile
	err := crdb.ReliableExec(ctx, cms.pool, crdb.StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		files = files[:0]
		rows, err := conn.Query(ctx, `
			SELECT partition_key, chunk_id, table_name, col_names, col_types, col_nullable, num_rows, num_bytes, created_at
			FROM chunk_files
			ORDER BY partition_key, chunk_id, table_name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f ChunkFile
			var chunkID int64
			var createdAt pgtype.Timestamptz
			err = rows.Scan(&f.PartitionKey, &chunkID, &f.Table, &f.ColNames, &f.ColTypes, &f.ColNullable, &f.NumRows, &f.NumBytes, &createdAt)
			if err != nil {
				return err
			}
			f.ChunkID = uint32(chunkID)
			f.CreatedAt = createdAt.Time
			files = append(files, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing chunk files: %w", err)
	}
	logger.Debug().Int("files", len(files)).Msg("listed chunk files")
	return files, nil
}

func (cms *CRDBMetaStore) Shutdown(context.Context) error {
	cms.pool.Close()
	return nil
}
