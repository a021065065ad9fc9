package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/pkg/errcode"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/response"
	"github.com/xxxsen/docpipe/internal/repo"
)

type WebhookHandler struct {
	jobs *repo.JobRepo
}

func NewWebhookHandler(jobs *repo.JobRepo) *WebhookHandler {
	return &WebhookHandler{jobs: jobs}
}

type parseWebhookRequest struct {
	ExternalJobID string `json:"external_job_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
	ResultURL     string `json:"result_url"`
	Error         string `json:"error"`
}

// Parse receives the parsing service's completion callback and maps it
// back to the internal job through the correlation id in the payload. The
// job is woken so the result is picked up ahead of its backoff schedule.
func (h *WebhookHandler) Parse(c *gin.Context) {
	var req parseWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrWebhookRejected, "invalid webhook body")
		return
	}
	if req.Status != "done" && req.Status != "error" {
		response.Error(c, errcode.ErrWebhookRejected, "unknown webhook status")
		return
	}
	ctx := c.Request.Context()
	job, err := h.jobs.FindByCorrelation(ctx, req.ExternalJobID)
	if err != nil {
		if appErr.IsNotFound(err) {
			response.Error(c, errcode.ErrNotFound, "no job for external id")
			return
		}
		response.Error(c, errcode.ErrInternal, "webhook processing failed")
		return
	}
	payload := job.Payload
	payload.ExternalDone = true
	payload.ResultURL = req.ResultURL
	payload.ExternalError = req.Error
	if err := h.jobs.UpdatePayload(ctx, job.ID, payload, true); err != nil {
		response.Error(c, errcode.ErrInternal, "webhook processing failed")
		return
	}
	logutil.GetLogger(ctx).Info("parse webhook applied",
		zap.String("job_id", job.ID),
		zap.String("external_job_id", req.ExternalJobID),
		zap.String("status", req.Status),
	)
	response.Success(c, gin.H{"job_id": job.ID, "job_status": string(job.Status)})
}
