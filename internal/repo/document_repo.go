package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, user_id, content_hash, parsed_hash, mime_type, byte_size,
		raw_path, parsed_path, status, error_message, ctime, mtime`

func scanDocument(scanner interface{ Scan(...interface{}) error }) (*model.Document, error) {
	var doc model.Document
	var status string
	if err := scanner.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.ContentHash,
		&doc.ParsedHash,
		&doc.MimeType,
		&doc.ByteSize,
		&doc.RawPath,
		&doc.ParsedPath,
		&status,
		&doc.ErrorMessage,
		&doc.Ctime,
		&doc.Mtime,
	); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	const query = `
		INSERT INTO documents (id, user_id, content_hash, parsed_hash, mime_type, byte_size,
			raw_path, parsed_path, status, error_message, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.UserID,
		doc.ContentHash,
		doc.ParsedHash,
		doc.MimeType,
		doc.ByteSize,
		doc.RawPath,
		doc.ParsedPath,
		string(doc.Status),
		doc.ErrorMessage,
		doc.Ctime,
		doc.Mtime,
	)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, documentID string) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepo) GetByUserAndHash(ctx context.Context, userID, contentHash string) (*model.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 AND content_hash = $2`,
		userID, contentHash)
	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// FindCompletedSource returns another user's document with the same content
// that already has embeddings stored, the precondition for duplication.
func (r *DocumentRepo) FindCompletedSource(ctx context.Context, contentHash, excludeUserID string) (*model.Document, error) {
	const query = `
		SELECT ` + documentColumns + ` FROM documents
		WHERE content_hash = $1 AND user_id <> $2 AND status IN ('embeddings_stored', 'complete')
		ORDER BY ctime ASC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, contentHash, excludeUserID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// UpdateStatusIf is the optimistic gate for every stage transition: the
// update lands only while the document still sits in the expected
// predecessor status, so a stale or duplicate job execution can never
// apply an out-of-order transition.
func (r *DocumentRepo) UpdateStatusIf(ctx context.Context, documentID string,
	from, to model.DocumentStatus) (bool, error) {
	const query = `
		UPDATE documents SET status = $1, mtime = $2
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query,
		string(to), timeutil.NowUnix(), documentID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetParsedIf records the parse output together with the status advance in
// one conditional update.
func (r *DocumentRepo) SetParsedIf(ctx context.Context, documentID, parsedHash, parsedPath string,
	from, to model.DocumentStatus) (bool, error) {
	const query = `
		UPDATE documents SET parsed_hash = $1, parsed_path = $2, status = $3, mtime = $4
		WHERE id = $5 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		parsedHash, parsedPath, string(to), timeutil.NowUnix(), documentID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkFailed is reachable from any non-terminal status.
func (r *DocumentRepo) MarkFailed(ctx context.Context, documentID, errMsg string) error {
	const query = `
		UPDATE documents SET status = 'failed', error_message = $1, mtime = $2
		WHERE id = $3 AND status NOT IN ('complete', 'failed')
	`
	_, err := r.db.ExecContext(ctx, query, errMsg, timeutil.NowUnix(), documentID)
	return err
}

// CreateWithChunks inserts a duplicated document together with its copied
// chunks in one transaction. A failure on any row rolls the whole copy
// back so no half-copied document is ever visible.
func (r *DocumentRepo) CreateWithChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	const docQuery = `
		INSERT INTO documents (id, user_id, content_hash, parsed_hash, mime_type, byte_size,
			raw_path, parsed_path, status, error_message, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := tx.ExecContext(ctx, docQuery,
		doc.ID, doc.UserID, doc.ContentHash, doc.ParsedHash, doc.MimeType, doc.ByteSize,
		doc.RawPath, doc.ParsedPath, string(doc.Status), doc.ErrorMessage, doc.Ctime, doc.Mtime,
	); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	const chunkQuery = `
		INSERT INTO chunks (id, document_id, ordinal, content, token_count, content_hash,
			strategy, strategy_version, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, chunk := range chunks {
		var embedding interface{}
		if chunk.Embedding != nil {
			embedding = pgvector.NewVector(chunk.Embedding)
		}
		if _, err := tx.ExecContext(ctx, chunkQuery,
			chunk.ID, chunk.DocumentID, chunk.Ordinal, chunk.Text, chunk.TokenCount,
			chunk.ContentHash, chunk.Strategy, chunk.StrategyVersion, embedding, chunk.Ctime,
		); err != nil {
			return fmt.Errorf("copy chunk %d: %w", chunk.Ordinal, err)
		}
	}
	return tx.Commit()
}
