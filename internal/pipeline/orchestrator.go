package pipeline

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docpipe/internal/embedder"
	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/parser"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

type Options struct {
	Docs     DocumentStore
	Jobs     JobStore
	Chunks   ChunkStore
	Blobs    filestore.Store
	Parser   parser.Client
	Embedder embedder.Embedder
	Notifier Notifier

	Workers        int
	PollInterval   time.Duration
	ClaimBatch     int
	EmbedBatchSize int
}

// Orchestrator runs the worker loop: claim due jobs, dispatch to the stage
// handler for the job type, persist the outcome and enqueue the next
// stage. Workers hold no state between claims; the job store is the only
// shared truth.
type Orchestrator struct {
	docs DocumentStore
	jobs JobStore

	parse    *ParseHandler
	chunk    *ChunkHandler
	embed    *EmbedHandler
	finalize *FinalizeHandler

	workers      int
	pollInterval time.Duration
	claimBatch   int
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = 8
	}
	deps := &handlerDeps{
		docs:   opts.Docs,
		jobs:   opts.Jobs,
		chunks: opts.Chunks,
		blobs:  opts.Blobs,
		parser: opts.Parser,
		embed:  opts.Embedder,
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Orchestrator{
		docs:         opts.Docs,
		jobs:         opts.Jobs,
		parse:        NewParseHandler(deps),
		chunk:        NewChunkHandler(deps),
		embed:        NewEmbedHandler(deps, opts.EmbedBatchSize),
		finalize:     NewFinalizeHandler(deps, notifier),
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		claimBatch:   opts.ClaimBatch,
	}
}

// Run blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		worker := i
		group.Go(func() error {
			o.workerLoop(gctx, worker)
			return nil
		})
	}
	return group.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, worker int) {
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", worker))
	for {
		claimed, err := o.jobs.ClaimDue(ctx, o.claimBatch)
		if err != nil {
			logger.Error("claim failed", zap.Error(err))
		}
		for _, job := range claimed {
			o.Process(ctx, job)
		}
		if len(claimed) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.pollInterval):
		}
	}
}

// Process executes one claimed job end to end.
func (o *Orchestrator) Process(ctx context.Context, job *model.Job) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("document_id", job.DocumentID),
	)
	doc, err := o.docs.Get(ctx, job.DocumentID)
	if err != nil {
		if appErr.IsNotFound(err) {
			logger.Error("document missing for job")
			o.failJob(ctx, job, doc, "document not found", false, logger)
			return
		}
		o.failJob(ctx, job, nil, err.Error(), true, logger)
		return
	}
	if doc.Status.Terminal() {
		logger.Info("document already terminal, dropping job", zap.String("status", string(doc.Status)))
		_, _ = o.jobs.Complete(ctx, job.ID)
		return
	}

	next, err := o.dispatch(ctx, job, doc)
	if err == nil {
		var nextType model.JobType
		var payload model.JobPayload
		var priority int
		var delay time.Duration
		if next != nil {
			nextType = next.Type
			payload = next.Payload
			priority = next.Priority
			delay = next.Delay
		}
		// Complete and successor land in one transaction; on error the job
		// stays running and the stuck sweep requeues it, so the document
		// never strands mid-pipeline with no live job.
		completed, nextID, cerr := o.jobs.CompleteAndEnqueue(ctx, job.ID, job.DocumentID, nextType, payload, priority, delay)
		if cerr != nil {
			logger.Error("complete failed, leaving job to the stuck sweep", zap.Error(cerr))
			return
		}
		if !completed {
			// Lost the job to the watchdog mid-flight; the requeued run
			// will redo this stage idempotently and enqueue the successor.
			logger.Warn("job no longer running on completion")
			return
		}
		if nextID != "" {
			logger.Info("next stage enqueued",
				zap.String("next_job_id", nextID),
				zap.String("next", string(nextType)),
			)
		}
		return
	}

	if appErr.IsConflict(err) {
		logger.Info("stale execution dropped", zap.Error(err))
		_, _ = o.jobs.Complete(ctx, job.ID)
		return
	}
	o.failJob(ctx, job, doc, err.Error(), !appErr.IsPermanent(err), logger)
}

// dispatch is the closed mapping from job type to stage handler.
func (o *Orchestrator) dispatch(ctx context.Context, job *model.Job, doc *model.Document) (*NextJob, error) {
	switch job.Type {
	case model.JobTypeParse:
		return o.parse.Handle(ctx, job, doc)
	case model.JobTypeChunk:
		return o.chunk.Handle(ctx, job, doc)
	case model.JobTypeEmbed:
		return o.embed.Handle(ctx, job, doc)
	case model.JobTypeFinalize:
		return o.finalize.Handle(ctx, job, doc)
	default:
		return nil, appErr.ErrPermanentInput
	}
}

func (o *Orchestrator) failJob(ctx context.Context, job *model.Job, doc *model.Document,
	errMsg string, retryable bool, logger *zap.Logger) {
	status, err := o.jobs.Fail(ctx, job.ID, errMsg, retryable)
	if err != nil {
		logger.Error("fail transition errored", zap.Error(err))
		return
	}
	logger.Warn("job failed",
		zap.String("error", errMsg),
		zap.Bool("retryable", retryable),
		zap.String("result_status", string(status)),
	)
	if status == model.JobStatusFailed && doc != nil {
		if err := o.docs.MarkFailed(ctx, doc.ID, errMsg); err != nil {
			logger.Error("mark document failed errored", zap.Error(err))
		}
	}
}
