package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/repository"
	"github.com/jengzang/drone-imagery-dashboard/internal/service"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// PrescriptionHandler handles HTTP requests for pesticide prescriptions
type PrescriptionHandler struct {
	service *service.PrescriptionService
}

// NewPrescriptionHandler creates a new prescription handler
func NewPrescriptionHandler(service *service.PrescriptionService) *PrescriptionHandler {
	return &PrescriptionHandler{service: service}
}

// List handles GET /api/v1/prescriptions
func (h *PrescriptionHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context(), c.DefaultQuery("status", "all"))
	if err != nil {
		h.fail(c, "Failed to list prescriptions", err)
		return
	}
	if list == nil {
		list = []*models.Prescription{}
	}
	response.Success(c, gin.H{
		"prescriptions": list,
		"total":         len(list),
	})
}

// Create handles POST /api/v1/prescriptions
func (h *PrescriptionHandler) Create(c *gin.Context) {
	var req models.CreatePrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to create prescription", err)
		return
	}
	response.Created(c, p)
}

// Get handles GET /api/v1/prescriptions/:id
func (h *PrescriptionHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get prescription", err)
		return
	}
	response.Success(c, gin.H{
		"prescription": p,
		"coverage":     service.Coverage(p.SprayMap),
	})
}

// Delete handles DELETE /api/v1/prescriptions/:id
func (h *PrescriptionHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "Failed to delete prescription", err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

// Stats handles GET /api/v1/prescriptions/stats
func (h *PrescriptionHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get prescription stats", err)
		return
	}
	response.Success(c, stats)
}

// SetStatus handles PUT /api/v1/prescriptions/:id/status
func (h *PrescriptionHandler) SetStatus(c *gin.Context) {
	var req models.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	h.respond(c, p, err)
}

// SetCell handles PUT /api/v1/prescriptions/:id/cells
func (h *PrescriptionHandler) SetCell(c *gin.Context) {
	var req models.SetCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.service.SetCell(c.Request.Context(), c.Param("id"), req)
	h.respond(c, p, err)
}

// BulkApply handles POST /api/v1/prescriptions/:id/bulk
func (h *PrescriptionHandler) BulkApply(c *gin.Context) {
	var req models.BulkApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.service.BulkApply(c.Request.Context(), c.Param("id"), req.Level)
	h.respond(c, p, err)
}

// ResizeGrid handles PUT /api/v1/prescriptions/:id/grid
func (h *PrescriptionHandler) ResizeGrid(c *gin.Context) {
	var req models.ResizeGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	p, err := h.service.ResizeGrid(c.Request.Context(), c.Param("id"), req.Rows, req.Cols)
	h.respond(c, p, err)
}

// RobotPath handles GET /api/v1/prescriptions/:id/robot-path
func (h *PrescriptionHandler) RobotPath(c *gin.Context) {
	path, err := h.service.RobotPath(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to build robot path", err)
		return
	}
	response.Success(c, path)
}

// EstimateArea handles POST /api/v1/area
func (h *PrescriptionHandler) EstimateArea(c *gin.Context) {
	var req models.AreaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	est, err := h.service.EstimateArea(req.Boundary)
	if err != nil {
		h.fail(c, "Failed to estimate area", err)
		return
	}
	response.Success(c, est)
}

func (h *PrescriptionHandler) respond(c *gin.Context, p *models.Prescription, err error) {
	if err != nil {
		h.fail(c, "Failed to update prescription", err)
		return
	}
	response.Success(c, gin.H{
		"prescription": p,
		"coverage":     service.Coverage(p.SprayMap),
	})
}

func (h *PrescriptionHandler) fail(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, repository.ErrPrescriptionNotFound):
		response.NotFound(c, "Prescription not found")
	case errors.Is(err, service.ErrInvalidPrescription):
		response.BadRequest(c, message, err)
	default:
		response.InternalError(c, message, err)
	}
}
