package schedule

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type WatchdogJobStore interface {
	ListStuck(ctx context.Context, startedBefore int64) ([]*model.Job, error)
	Fail(ctx context.Context, jobID string, errMsg string, retryable bool) (model.JobStatus, error)
}

type WatchdogDocumentStore interface {
	MarkFailed(ctx context.Context, documentID, errMsg string) error
}

// Watchdog sweeps jobs stuck in running past the threshold. There is no
// mid-flight cancellation; the sweep fails the row retryably and lets the
// claim machinery hand the work to a live worker.
type Watchdog struct {
	jobs      WatchdogJobStore
	docs      WatchdogDocumentStore
	threshold time.Duration
}

func NewWatchdog(jobs WatchdogJobStore, docs WatchdogDocumentStore, threshold time.Duration) *Watchdog {
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	return &Watchdog{jobs: jobs, docs: docs, threshold: threshold}
}

func (w *Watchdog) Name() string {
	return "stuck_job_sweep"
}

func (w *Watchdog) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	cutoff := timeutil.NowUnix() - int64(w.threshold/time.Second)
	stuck, err := w.jobs.ListStuck(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		status, err := w.jobs.Fail(ctx, job.ID, "stuck", true)
		if err != nil {
			logger.Error("requeue stuck job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		logger.Warn("stuck job swept",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.String("document_id", job.DocumentID),
			zap.String("result_status", string(status)),
		)
		if status == model.JobStatusFailed {
			if err := w.docs.MarkFailed(ctx, job.DocumentID, "stuck"); err != nil {
				logger.Error("mark document failed errored", zap.String("document_id", job.DocumentID), zap.Error(err))
			}
		}
	}
	return nil
}
