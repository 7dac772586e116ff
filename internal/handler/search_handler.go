// Package handler contains the HTTP controller logic.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/gin-gonic/gin"
)

// SearchHandler serves the semantic search endpoint.
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler creates a new SearchHandler instance.
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

func filterFromQuery(c *gin.Context) model.SearchFilter {
	return model.SearchFilter{
		Panel:            c.Query("panel"),
		ProductCode:      c.Query("productCode"),
		DecisionDateFrom: c.Query("dateFrom"),
		DecisionDateTo:   c.Query("dateTo"),
	}
}

// Search handles GET /search requests.
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "query parameter is required", "data": nil})
		return
	}

	topK, err := strconv.Atoi(c.DefaultQuery("topK", "0"))
	if err != nil || topK < 0 {
		topK = 0
	}
	filter := filterFromQuery(c)
	log.Infof("[SearchHandler] search request, query: %q, topK: %d", query, topK)

	results, err := h.searchService.Search(c.Request.Context(), query, topK, filter)
	if err != nil {
		if errors.Is(err, service.ErrEmptyIndex) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "vector index is empty, run a build first", "data": nil})
			return
		}
		log.Errorf("[SearchHandler] search failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "search failed", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
