package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/errcode"
	"github.com/xxxsen/docpipe/internal/pkg/response"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
	"github.com/xxxsen/docpipe/internal/repo"
)

type OpsHandler struct {
	jobs           *repo.JobRepo
	stuckThreshold time.Duration
}

func NewOpsHandler(jobs *repo.JobRepo, stuckThreshold time.Duration) *OpsHandler {
	return &OpsHandler{jobs: jobs, stuckThreshold: stuckThreshold}
}

type queueStatsResponse struct {
	Queued           int64   `json:"queued"`
	Running          int64   `json:"running"`
	Retrying         int64   `json:"retrying"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Stuck            int64   `json:"stuck"`
	AvgCompletionSec float64 `json:"avg_completion_sec"`
}

// Queue is the operator health surface: job counts by status, stuck count
// and average completion time.
func (h *OpsHandler) Queue(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		response.Error(c, errcode.ErrInternal, "failed to read queue stats")
		return
	}
	cutoff := timeutil.NowUnix() - int64(h.stuckThreshold/time.Second)
	stuck, err := h.jobs.CountStuck(ctx, cutoff)
	if err != nil {
		response.Error(c, errcode.ErrInternal, "failed to read queue stats")
		return
	}
	avg, err := h.jobs.AvgCompletionSeconds(ctx)
	if err != nil {
		response.Error(c, errcode.ErrInternal, "failed to read queue stats")
		return
	}
	response.Success(c, queueStatsResponse{
		Queued:           counts[model.JobStatusQueued],
		Running:          counts[model.JobStatusRunning],
		Retrying:         counts[model.JobStatusRetrying],
		Completed:        counts[model.JobStatusCompleted],
		Failed:           counts[model.JobStatusFailed],
		Stuck:            stuck,
		AvgCompletionSec: avg,
	})
}
