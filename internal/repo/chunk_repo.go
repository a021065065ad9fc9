package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/dbutil"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// UpsertBatch inserts chunks keyed by their deterministic ids. Re-running
// the chunk stage over identical parsed text produces identical ids, so
// existing rows are left untouched and the write degrades to a no-op.
func (r *ChunkRepo) UpsertBatch(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		data = append(data, map[string]interface{}{
			"id":               chunk.ID,
			"document_id":      chunk.DocumentID,
			"ordinal":          chunk.Ordinal,
			"content":          chunk.Text,
			"token_count":      chunk.TokenCount,
			"content_hash":     chunk.ContentHash,
			"strategy":         chunk.Strategy,
			"strategy_version": chunk.StrategyVersion,
			"ctime":            chunk.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("chunks", data)
	if err != nil {
		return err
	}
	sqlStr += " ON CONFLICT (id) DO NOTHING"
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

const chunkColumns = `id, document_id, ordinal, content, token_count, content_hash,
		strategy, strategy_version, embedding, ctime`

func scanChunk(scanner interface{ Scan(...interface{}) error }) (*model.Chunk, error) {
	var chunk model.Chunk
	var embedding sql.Null[pgvector.Vector]
	if err := scanner.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.Ordinal,
		&chunk.Text,
		&chunk.TokenCount,
		&chunk.ContentHash,
		&chunk.Strategy,
		&chunk.StrategyVersion,
		&embedding,
		&chunk.Ctime,
	); err != nil {
		return nil, err
	}
	if embedding.Valid {
		chunk.Embedding = embedding.V.Slice()
	}
	return &chunk, nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.Chunk, error) {
	const query = `
		SELECT ` + chunkColumns + ` FROM chunks
		WHERE document_id = $1
		ORDER BY ordinal ASC
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*model.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ListMissingEmbedding feeds the embed stage; it only ever sees chunks
// without a vector, which keeps re-runs safe.
func (r *ChunkRepo) ListMissingEmbedding(ctx context.Context, documentID string, limit int) ([]*model.Chunk, error) {
	const query = `
		SELECT ` + chunkColumns + ` FROM chunks
		WHERE document_id = $1 AND embedding IS NULL
		ORDER BY ordinal ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*model.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// SaveEmbedding writes a vector only where none exists yet.
func (r *ChunkRepo) SaveEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	const query = `
		UPDATE chunks SET embedding = $1
		WHERE id = $2 AND embedding IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, pgvector.NewVector(embedding), chunkID)
	return err
}

func (r *ChunkRepo) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = $1`, documentID)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChunkRepo) CountMissingEmbedding(ctx context.Context, documentID string) (int64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = $1 AND embedding IS NULL`, documentID)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
