package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/service"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// GalleryHandler serves processed outputs
type GalleryHandler struct {
	service *service.GalleryService
}

// NewGalleryHandler creates a new gallery handler
func NewGalleryHandler(service *service.GalleryService) *GalleryHandler {
	return &GalleryHandler{service: service}
}

// List handles GET /api/v1/gallery
func (h *GalleryHandler) List(c *gin.Context) {
	var filter models.GalleryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}

	outputs, err := h.service.List(c.Request.Context(), filter)
	if errors.Is(err, service.ErrInvalidFilter) {
		response.BadRequest(c, "Invalid gallery filter", err)
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to list outputs", err)
		return
	}
	if outputs == nil {
		outputs = []models.ProcessedOutput{}
	}
	response.Success(c, gin.H{
		"outputs": outputs,
		"total":   len(outputs),
	})
}

// GetFile handles GET /api/v1/results/:taskId/:fileName by streaming the backend file
func (h *GalleryHandler) GetFile(c *gin.Context) {
	body, contentType, err := h.service.OpenFile(c.Request.Context(), c.Param("taskId"), c.Param("fileName"))
	if errors.Is(err, service.ErrInvalidFileName) {
		response.BadRequest(c, "Invalid file name", err)
		return
	}
	if err != nil {
		response.Error(c, statusFor(err), "Failed to get processed file", err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}
