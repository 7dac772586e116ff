package handler

import (
	"context"
	"net/http"

	"github.com/M4ORE/fda-ai-device-analyst/internal/pipeline"
	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/kafka"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/tasks"
	"github.com/gin-gonic/gin"
)

// AdminHandler serves the administrative build and classification endpoints.
// The admin token middleware guards every route here.
type AdminHandler struct {
	builder         *pipeline.Builder
	classifyService service.ClassifyService
}

// NewAdminHandler creates a new AdminHandler instance.
func NewAdminHandler(builder *pipeline.Builder, classifyService service.ClassifyService) *AdminHandler {
	return &AdminHandler{
		builder:         builder,
		classifyService: classifyService,
	}
}

// RebuildIndex handles POST /admin/index/rebuild. The build runs in the
// background; progress is served by IndexStatus.
func (h *AdminHandler) RebuildIndex(c *gin.Context) {
	log.Info("[AdminHandler] full index rebuild requested")

	go func() {
		// Detached from the request context so the build survives the
		// HTTP response.
		if _, err := h.builder.BuildAll(context.Background()); err != nil {
			log.Error("[AdminHandler] full rebuild failed to start", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "rebuild started", "data": nil})
}

// IndexStatus handles GET /admin/index/status.
func (h *AdminHandler) IndexStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.builder.Status()})
}

type reindexRequest struct {
	SubmissionNumbers []string `json:"submissionNumbers" binding:"required,min=1"`
	Reason            string   `json:"reason"`
}

// Reindex handles POST /admin/index/reindex by enqueuing one task per
// record; the Kafka consumer picks them up with bounded retries.
func (h *AdminHandler) Reindex(c *gin.Context) {
	var req reindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "submissionNumbers is required", "data": nil})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}
	for _, submissionNumber := range req.SubmissionNumbers {
		task := tasks.ReindexTask{SubmissionNumber: submissionNumber, Reason: reason}
		if err := kafka.ProduceReindexTask(task); err != nil {
			log.Errorf("[AdminHandler] failed to enqueue reindex of %s: %v", submissionNumber, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to enqueue reindex task", "data": nil})
			return
		}
	}

	log.Infof("[AdminHandler] enqueued %d reindex tasks", len(req.SubmissionNumbers))
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "reindex tasks enqueued", "data": gin.H{
		"enqueued": len(req.SubmissionNumbers),
	}})
}

type classifyRequest struct {
	Limit int `json:"limit"`
}

// Classify handles POST /admin/classify, running the LLM classification
// batch in the background.
func (h *AdminHandler) Classify(c *gin.Context) {
	var req classifyRequest
	_ = c.ShouldBindJSON(&req)

	log.Infof("[AdminHandler] classification batch requested, limit: %d", req.Limit)
	go func() {
		if _, err := h.classifyService.ClassifyAll(context.Background(), req.Limit); err != nil {
			log.Error("[AdminHandler] classification batch failed", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "classification started", "data": nil})
}
