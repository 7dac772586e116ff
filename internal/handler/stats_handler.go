package handler

import (
	"net/http"

	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/gin-gonic/gin"
)

// StatsHandler serves the dashboard aggregates.
type StatsHandler struct {
	statsService service.StatsService
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(statsService service.StatsService) *StatsHandler {
	return &StatsHandler{statsService: statsService}
}

// Dashboard handles GET /dashboard, honoring the same metadata filters as
// the device listing.
func (h *StatsHandler) Dashboard(c *gin.Context) {
	filter := listFilterFromQuery(c)

	dashboard, err := h.statsService.Dashboard(c.Request.Context(), filter)
	if err != nil {
		log.Errorf("[StatsHandler] dashboard failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to build dashboard", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": dashboard})
}
