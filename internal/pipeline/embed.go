package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/embedcache"
	"github.com/xxxsen/docpipe/internal/model"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

// EmbedHandler batches chunks that still lack a vector through the
// embedding client. Because it only ever selects null-embedding chunks a
// re-run after a mid-flight failure picks up exactly where it stopped.
type EmbedHandler struct {
	deps      *handlerDeps
	batchSize int
}

func NewEmbedHandler(deps *handlerDeps, batchSize int) *EmbedHandler {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &EmbedHandler{deps: deps, batchSize: batchSize}
}

func (h *EmbedHandler) Handle(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusEmbeddingQueued, model.DocStatusEmbeddingInProgress); err != nil {
		return nil, err
	}
	total, err := h.deps.chunks.CountByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: count chunks: %v", appErr.ErrTransient, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: document %s has no chunks to embed", appErr.ErrPermanentInput, doc.ID)
	}
	embedded := 0
	for {
		batch, err := h.deps.chunks.ListMissingEmbedding(ctx, doc.ID, h.batchSize)
		if err != nil {
			return nil, fmt.Errorf("%w: list chunks: %v", appErr.ErrTransient, err)
		}
		if len(batch) == 0 {
			break
		}
		vectors, err := h.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, chunk := range batch {
			if err := h.deps.chunks.SaveEmbedding(ctx, chunk.ID, vectors[i]); err != nil {
				return nil, fmt.Errorf("%w: save embedding: %v", appErr.ErrTransient, err)
			}
		}
		embedded += len(batch)
	}
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusEmbeddingInProgress, model.DocStatusEmbeddingsStored); err != nil {
		return nil, err
	}
	logger.Info("embedding completed", zap.Int("embedded", embedded), zap.Int64("total", total))
	return &NextJob{Type: model.JobTypeFinalize, Priority: job.Priority}, nil
}

// embedBatch keys cache lookups by chunk content hash when the client is
// cache-wrapped; either way the whole batch succeeds or fails as a unit.
func (h *EmbedHandler) embedBatch(ctx context.Context, batch []*model.Chunk) ([][]float32, error) {
	texts := make([]string, 0, len(batch))
	keys := make([]string, 0, len(batch))
	for _, chunk := range batch {
		texts = append(texts, chunk.Text)
		keys = append(keys, chunk.ContentHash)
	}
	var vectors [][]float32
	var err error
	if keyed, ok := h.deps.embed.(embedcache.KeyedBatch); ok {
		vectors, err = keyed.EmbedKeyed(ctx, keys, texts)
	} else {
		vectors, err = h.deps.embed.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: embedding client returned %d vectors for %d chunks",
			appErr.ErrTransient, len(vectors), len(batch))
	}
	return vectors, nil
}
