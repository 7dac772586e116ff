package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/M4ORE/fda-ai-device-analyst/internal/repository"
	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DeviceHandler serves corpus browsing and approval-letter downloads.
type DeviceHandler struct {
	deviceService service.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler instance.
func NewDeviceHandler(deviceService service.DeviceService) *DeviceHandler {
	return &DeviceHandler{deviceService: deviceService}
}

func listFilterFromQuery(c *gin.Context) repository.DeviceListFilter {
	return repository.DeviceListFilter{
		Panel:       c.Query("panel"),
		Company:     c.Query("company"),
		ProductCode: c.Query("productCode"),
		Year:        c.Query("year"),
	}
}

// List handles GET /devices with paging and metadata filters.
func (h *DeviceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	filter := listFilterFromQuery(c)

	devices, total, err := h.deviceService.List(filter, page, pageSize)
	if err != nil {
		log.Errorf("[DeviceHandler] list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to list devices", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"devices":  devices,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	}})
}

// Get handles GET /devices/:submissionNumber.
func (h *DeviceHandler) Get(c *gin.Context) {
	submissionNumber := c.Param("submissionNumber")

	detail, err := h.deviceService.Get(submissionNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "device not found", "data": nil})
			return
		}
		log.Errorf("[DeviceHandler] get %s failed: %v", submissionNumber, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load device", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": detail})
}

// LetterURL handles GET /devices/:submissionNumber/letter and returns a
// presigned URL for the approval letter PDF.
func (h *DeviceHandler) LetterURL(c *gin.Context) {
	submissionNumber := c.Param("submissionNumber")

	url, err := h.deviceService.LetterURL(submissionNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "device not found", "data": nil})
			return
		}
		log.Errorf("[DeviceHandler] letter URL for %s failed: %v", submissionNumber, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to generate letter URL", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}
