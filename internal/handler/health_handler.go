package handler

import (
	"net/http"

	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/gin-gonic/gin"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	index service.ChunkIndex
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(index service.ChunkIndex) *HealthHandler {
	return &HealthHandler{index: index}
}

// Health handles GET /health. The chunk count doubles as a readiness
// signal: zero means the index has not been built yet.
func (h *HealthHandler) Health(c *gin.Context) {
	indexedChunks, err := h.index.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "vector index unreachable", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"status":        "ok",
		"indexedChunks": indexedChunks,
	}})
}
