package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/model"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/hash"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type DocumentStore interface {
	GetByUserAndHash(ctx context.Context, userID, contentHash string) (*model.Document, error)
	FindCompletedSource(ctx context.Context, contentHash, excludeUserID string) (*model.Document, error)
	Create(ctx context.Context, doc *model.Document) error
	CreateWithChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk) error
	Get(ctx context.Context, documentID string) (*model.Document, error)
}

type ChunkStore interface {
	ListByDocument(ctx context.Context, documentID string) ([]*model.Chunk, error)
}

type JobStore interface {
	Enqueue(ctx context.Context, documentID string, jobType model.JobType,
		payload model.JobPayload, priority int, delay time.Duration) (string, error)
}

// IntakeService decides new-vs-duplicate-vs-noop for an upload and either
// hands back an existing document, clones an already-processed one, or
// starts the pipeline for genuinely new content.
type IntakeService struct {
	docs   DocumentStore
	chunks ChunkStore
	jobs   JobStore
	blobs  filestore.Store
}

func NewIntakeService(docs DocumentStore, chunks ChunkStore, jobs JobStore, blobs filestore.Store) *IntakeService {
	return &IntakeService{docs: docs, chunks: chunks, jobs: jobs, blobs: blobs}
}

// Intake is the synchronous upload boundary: it returns a document id and
// current status; everything after that is driven by the job queue.
func (s *IntakeService) Intake(ctx context.Context, userID string, raw []byte, mimeType, filename string) (*model.Document, error) {
	if userID == "" || len(raw) == 0 {
		return nil, appErr.ErrInvalid
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("filename", filename))
	contentHash := hash.Sum(raw)

	// Same user, same bytes: idempotent re-upload, no new job.
	existing, err := s.docs.GetByUserAndHash(ctx, userID, contentHash)
	if err == nil {
		logger.Info("re-upload of existing document", zap.String("document_id", existing.ID))
		return existing, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}

	// Another tenant already processed identical bytes: clone document and
	// chunks, skip the pipeline entirely.
	source, err := s.docs.FindCompletedSource(ctx, contentHash, userID)
	if err == nil {
		doc, dupErr := s.duplicate(ctx, userID, contentHash, mimeType, raw, source)
		if dupErr == nil {
			logger.Info("duplicated processed document",
				zap.String("document_id", doc.ID),
				zap.String("source_document_id", source.ID),
			)
			return doc, nil
		}
		if appErr.IsConflict(dupErr) {
			// Raced with another upload of the same content; the winner's row
			// is the answer.
			return s.docs.GetByUserAndHash(ctx, userID, contentHash)
		}
		logger.Warn("duplication failed, falling back to full pipeline", zap.Error(dupErr))
	} else if !appErr.IsNotFound(err) {
		return nil, err
	}

	return s.createFresh(ctx, userID, contentHash, mimeType, raw, logger)
}

func (s *IntakeService) duplicate(ctx context.Context, userID, contentHash, mimeType string,
	raw []byte, source *model.Document) (*model.Document, error) {
	sourceChunks, err := s.chunks.ListByDocument(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:          hash.DocumentID(userID, contentHash),
		UserID:      userID,
		ContentHash: contentHash,
		ParsedHash:  source.ParsedHash,
		MimeType:    mimeType,
		ByteSize:    int64(len(raw)),
		ParsedPath:  source.ParsedPath,
		Status:      source.Status,
		Ctime:       now,
		Mtime:       now,
	}
	copied := make([]*model.Chunk, 0, len(sourceChunks))
	for _, src := range sourceChunks {
		copied = append(copied, &model.Chunk{
			ID:              hash.ChunkID(doc.ID, src.Strategy, src.StrategyVersion, src.Ordinal),
			DocumentID:      doc.ID,
			Ordinal:         src.Ordinal,
			Text:            src.Text,
			TokenCount:      src.TokenCount,
			ContentHash:     src.ContentHash,
			Strategy:        src.Strategy,
			StrategyVersion: src.StrategyVersion,
			Embedding:       src.Embedding,
			Ctime:           now,
		})
	}
	if err := s.docs.CreateWithChunks(ctx, doc, copied); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *IntakeService) createFresh(ctx context.Context, userID, contentHash, mimeType string,
	raw []byte, logger *zap.Logger) (*model.Document, error) {
	rawPath := filestore.RawKey(userID, contentHash)
	if err := s.blobs.Put(ctx, rawPath, raw); err != nil {
		// No document row without the raw bytes; intake fails atomically.
		return nil, fmt.Errorf("store raw upload: %w", err)
	}
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:          hash.DocumentID(userID, contentHash),
		UserID:      userID,
		ContentHash: contentHash,
		MimeType:    mimeType,
		ByteSize:    int64(len(raw)),
		RawPath:     rawPath,
		Status:      model.DocStatusUploaded,
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if appErr.IsConflict(err) {
			return s.docs.GetByUserAndHash(ctx, userID, contentHash)
		}
		return nil, err
	}
	if _, err := s.jobs.Enqueue(ctx, doc.ID, model.JobTypeParse, model.JobPayload{}, 0, 0); err != nil {
		return nil, fmt.Errorf("enqueue parse job: %w", err)
	}
	logger.Info("document accepted", zap.String("document_id", doc.ID), zap.Int64("bytes", doc.ByteSize))
	return doc, nil
}
