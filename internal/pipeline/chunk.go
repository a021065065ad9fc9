package pipeline

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/model"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

// ChunkHandler splits the parsed text into ordinal-ordered chunks and
// upserts them by deterministic id.
type ChunkHandler struct {
	deps *handlerDeps
}

func NewChunkHandler(deps *handlerDeps) *ChunkHandler {
	return &ChunkHandler{deps: deps}
}

func (h *ChunkHandler) Handle(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusParseValidated, model.DocStatusChunking); err != nil {
		return nil, err
	}
	if doc.ParsedPath == "" {
		return nil, fmt.Errorf("%w: document %s has no parsed text", appErr.ErrPermanentInput, doc.ID)
	}
	parsed, err := h.deps.blobs.Get(ctx, doc.ParsedPath)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: parsed blob missing at %s", appErr.ErrCorruptedBlob, doc.ParsedPath)
		}
		return nil, fmt.Errorf("%w: read parsed blob: %v", appErr.ErrTransient, err)
	}
	chunks := SplitText(doc.ID, string(parsed))
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced from parsed text", appErr.ErrPermanentInput)
	}
	if err := h.deps.chunks.UpsertBatch(ctx, chunks); err != nil {
		return nil, fmt.Errorf("%w: store chunks: %v", appErr.ErrTransient, err)
	}
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusChunking, model.DocStatusChunksStored); err != nil {
		return nil, err
	}
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusChunksStored, model.DocStatusEmbeddingQueued); err != nil {
		return nil, err
	}
	logger.Info("chunking completed", zap.Int("chunks", len(chunks)))
	return &NextJob{Type: model.JobTypeEmbed, Priority: job.Priority}, nil
}
