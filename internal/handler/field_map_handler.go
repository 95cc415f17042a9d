package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/service"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// FieldMapHandler serves field maps
type FieldMapHandler struct {
	service *service.FieldMapService
}

// NewFieldMapHandler creates a new field map handler
func NewFieldMapHandler(service *service.FieldMapService) *FieldMapHandler {
	return &FieldMapHandler{service: service}
}

// List handles GET /api/v1/fieldmaps
func (h *FieldMapHandler) List(c *gin.Context) {
	maps, summary, err := h.service.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to list field maps", err)
		return
	}
	response.Success(c, gin.H{
		"fieldMaps": maps,
		"summary":   summary,
	})
}
