package pipeline

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/model"
)

// FinalizeHandler marks the document complete and fires the notification
// hook.
type FinalizeHandler struct {
	deps     *handlerDeps
	notifier Notifier
}

func NewFinalizeHandler(deps *handlerDeps, notifier Notifier) *FinalizeHandler {
	return &FinalizeHandler{deps: deps, notifier: notifier}
}

func (h *FinalizeHandler) Handle(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error) {
	_ = job
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusEmbeddingsStored, model.DocStatusComplete); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document complete", zap.String("document_id", doc.ID))
	if h.notifier != nil {
		h.notifier.DocumentComplete(ctx, doc)
	}
	return nil, nil
}

// LogNotifier is the in-tree notification hook; richer delivery targets
// plug in through the Notifier interface.
type LogNotifier struct{}

func (LogNotifier) DocumentComplete(ctx context.Context, doc *model.Document) {
	logutil.GetLogger(ctx).Info("document processing finished",
		zap.String("document_id", doc.ID),
		zap.String("user_id", doc.UserID),
	)
}
