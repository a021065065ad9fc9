package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docpipe/internal/middleware"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Webhooks  *WebhookHandler
	Ops       *OpsHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/documents", middleware.RateLimit(time.Second), deps.Documents.Upload)
	api.GET("/documents/:id", deps.Documents.Get)
	api.GET("/documents/:id/chunks", deps.Documents.ListChunks)

	api.POST("/webhooks/parse", deps.Webhooks.Parse)

	api.GET("/ops/queue", deps.Ops.Queue)
}
