package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/docpipe/internal/embedder"
	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/parser"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

// NextJob is what a stage handler asks the orchestrator to enqueue after
// its own job completed.
type NextJob struct {
	Type     model.JobType
	Payload  model.JobPayload
	Priority int
	Delay    time.Duration
}

// StageHandler advances a document by exactly one stage. Handlers never
// swallow errors; they return them typed and the orchestrator decides
// between retry and terminal failure.
type StageHandler interface {
	Handle(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error)
}

type handlerDeps struct {
	docs   DocumentStore
	jobs   JobStore
	chunks ChunkStore
	blobs  filestore.Store
	parser parser.Client
	embed  embedder.Embedder
}

// advance applies one optimistic status transition. A transition that
// already happened (a re-run after partial progress) is fine; a document
// sitting anywhere else means this execution is stale and must drop out.
func (d *handlerDeps) advance(ctx context.Context, documentID string, from, to model.DocumentStatus) error {
	ok, err := d.docs.UpdateStatusIf(ctx, documentID, from, to)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	doc, err := d.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status.AtOrPast(to) {
		return nil
	}
	return fmt.Errorf("%w: document %s is %s, transition %s -> %s does not apply",
		appErr.ErrConflict, documentID, doc.Status, from, to)
}
