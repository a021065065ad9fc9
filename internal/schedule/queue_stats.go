package schedule

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type StatsJobStore interface {
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
	CountStuck(ctx context.Context, startedBefore int64) (int64, error)
	AvgCompletionSeconds(ctx context.Context) (float64, error)
}

// QueueStats periodically logs the health surface the dashboards read.
type QueueStats struct {
	jobs           StatsJobStore
	stuckThreshold time.Duration
}

func NewQueueStats(jobs StatsJobStore, stuckThreshold time.Duration) *QueueStats {
	if stuckThreshold <= 0 {
		stuckThreshold = 15 * time.Minute
	}
	return &QueueStats{jobs: jobs, stuckThreshold: stuckThreshold}
}

func (q *QueueStats) Name() string {
	return "queue_stats"
}

func (q *QueueStats) Run(ctx context.Context) error {
	counts, err := q.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	cutoff := timeutil.NowUnix() - int64(q.stuckThreshold/time.Second)
	stuck, err := q.jobs.CountStuck(ctx, cutoff)
	if err != nil {
		return err
	}
	avg, err := q.jobs.AvgCompletionSeconds(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("queue stats",
		zap.Int64("queued", counts[model.JobStatusQueued]),
		zap.Int64("running", counts[model.JobStatusRunning]),
		zap.Int64("retrying", counts[model.JobStatusRetrying]),
		zap.Int64("completed", counts[model.JobStatusCompleted]),
		zap.Int64("failed", counts[model.JobStatusFailed]),
		zap.Int64("stuck", stuck),
		zap.Float64("avg_completion_sec", avg),
	)
	return nil
}
