package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/parser"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/hash"
)

const (
	parsePollInterval = 2 * time.Second
	parseMaxPolls     = 15
)

// ParseHandler submits raw bytes to the parsing service, waits for the
// extraction, validates it and stores the parsed text.
type ParseHandler struct {
	deps *handlerDeps
}

func NewParseHandler(deps *handlerDeps) *ParseHandler {
	return &ParseHandler{deps: deps}
}

func (h *ParseHandler) Handle(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusUploaded, model.DocStatusParseQueued); err != nil {
		return nil, err
	}

	payload := job.Payload
	if payload.ExternalJobID == "" {
		raw, err := h.deps.blobs.Get(ctx, doc.RawPath)
		if err != nil {
			if appErr.IsNotFound(err) {
				return nil, fmt.Errorf("%w: raw blob missing at %s", appErr.ErrCorruptedBlob, doc.RawPath)
			}
			return nil, fmt.Errorf("%w: read raw blob: %v", appErr.ErrTransient, err)
		}
		if hash.Sum(raw) != doc.ContentHash {
			return nil, fmt.Errorf("%w: raw blob digest mismatch for %s", appErr.ErrCorruptedBlob, doc.ID)
		}
		externalID, err := h.deps.parser.Submit(ctx, raw, doc.MimeType)
		if err != nil {
			return nil, err
		}
		payload.ExternalJobID = externalID
		if err := h.deps.jobs.UpdatePayload(ctx, job.ID, payload, false); err != nil {
			return nil, err
		}
		logger.Info("parse submitted", zap.String("external_job_id", externalID))
	}

	if payload.ExternalDone && payload.ExternalError != "" {
		return nil, fmt.Errorf("%w: %s", appErr.ErrUnparseable, payload.ExternalError)
	}

	text, err := h.awaitResult(ctx, payload)
	if err != nil {
		if payload.ExternalJobID != "" && appErr.IsNotFound(err) {
			// The parsing service no longer knows this correlation id
			// (expired result, restarted backend). Drop it so the next
			// attempt submits fresh instead of burning the retry budget
			// on a permanently dead id.
			payload.ExternalJobID = ""
			payload.ExternalDone = false
			payload.ExternalError = ""
			payload.ResultURL = ""
			if uerr := h.deps.jobs.UpdatePayload(ctx, job.ID, payload, false); uerr != nil {
				return nil, uerr
			}
			logger.Warn("parse result no longer available, resubmitting on next attempt")
			return nil, fmt.Errorf("%w: parse result no longer available", appErr.ErrTransient)
		}
		return nil, err
	}
	if err := validateParsed(text); err != nil {
		return nil, err
	}

	parsedPath := filestore.ParsedKey(doc.UserID, doc.ID)
	if err := h.deps.blobs.Put(ctx, parsedPath, []byte(text)); err != nil {
		return nil, fmt.Errorf("%w: store parsed text: %v", appErr.ErrTransient, err)
	}
	parsedHash := hash.SumString(text)
	ok, err := h.deps.docs.SetParsedIf(ctx, doc.ID, parsedHash, parsedPath,
		model.DocStatusParseQueued, model.DocStatusParsed)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := h.deps.advance(ctx, doc.ID, model.DocStatusParseQueued, model.DocStatusParsed); err != nil {
			return nil, err
		}
	}
	if err := h.deps.advance(ctx, doc.ID, model.DocStatusParsed, model.DocStatusParseValidated); err != nil {
		return nil, err
	}
	logger.Info("parse completed", zap.Int("parsed_bytes", len(text)))
	return &NextJob{Type: model.JobTypeChunk, Priority: job.Priority}, nil
}

// awaitResult polls the parsing service for a bounded window. A result
// that is still pending afterwards surfaces as a transient error so the
// job retries with backoff instead of pinning a worker.
func (h *ParseHandler) awaitResult(ctx context.Context, payload model.JobPayload) (string, error) {
	if payload.ExternalDone {
		return h.deps.parser.Result(ctx, payload.ExternalJobID)
	}
	for attempt := 0; attempt < parseMaxPolls; attempt++ {
		state, err := h.deps.parser.Status(ctx, payload.ExternalJobID)
		if err != nil {
			return "", err
		}
		switch state {
		case parser.StateDone:
			return h.deps.parser.Result(ctx, payload.ExternalJobID)
		case parser.StateError:
			_, err := h.deps.parser.Result(ctx, payload.ExternalJobID)
			if err != nil {
				return "", err
			}
			return "", fmt.Errorf("%w: parsing service reported failure", appErr.ErrUnparseable)
		case parser.StatePending:
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(parsePollInterval):
		}
	}
	return "", fmt.Errorf("%w: parse result still pending", appErr.ErrTransient)
}

func validateParsed(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: parser returned empty text", appErr.ErrUnparseable)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: parser returned invalid encoding", appErr.ErrUnparseable)
	}
	return nil
}
