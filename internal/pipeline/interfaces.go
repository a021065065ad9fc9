package pipeline

import (
	"context"
	"time"

	"github.com/xxxsen/docpipe/internal/model"
)

// The orchestrator and stage handlers only see these capability
// interfaces; the postgres repos satisfy them in production and in-memory
// fakes stand in for tests.

type DocumentStore interface {
	Get(ctx context.Context, documentID string) (*model.Document, error)
	UpdateStatusIf(ctx context.Context, documentID string, from, to model.DocumentStatus) (bool, error)
	SetParsedIf(ctx context.Context, documentID, parsedHash, parsedPath string, from, to model.DocumentStatus) (bool, error)
	MarkFailed(ctx context.Context, documentID, errMsg string) error
}

type JobStore interface {
	Enqueue(ctx context.Context, documentID string, jobType model.JobType,
		payload model.JobPayload, priority int, delay time.Duration) (string, error)
	ClaimDue(ctx context.Context, capacity int) ([]*model.Job, error)
	Complete(ctx context.Context, jobID string) (bool, error)
	CompleteAndEnqueue(ctx context.Context, jobID string, documentID string,
		nextType model.JobType, payload model.JobPayload, priority int, delay time.Duration) (bool, string, error)
	Fail(ctx context.Context, jobID string, errMsg string, retryable bool) (model.JobStatus, error)
	UpdatePayload(ctx context.Context, jobID string, payload model.JobPayload, wake bool) error
}

type ChunkStore interface {
	UpsertBatch(ctx context.Context, chunks []*model.Chunk) error
	ListMissingEmbedding(ctx context.Context, documentID string, limit int) ([]*model.Chunk, error)
	SaveEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	CountByDocument(ctx context.Context, documentID string) (int64, error)
}

// Notifier is fired once a document reaches complete. The production
// implementation just logs; anything heavier lives outside this core.
type Notifier interface {
	DocumentComplete(ctx context.Context, doc *model.Document)
}
