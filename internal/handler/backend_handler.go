package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/health"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// BackendHandler reports processing backend availability
type BackendHandler struct {
	monitor *health.Monitor
	baseURL string
}

// NewBackendHandler creates a new backend handler
func NewBackendHandler(monitor *health.Monitor, baseURL string) *BackendHandler {
	return &BackendHandler{monitor: monitor, baseURL: baseURL}
}

// Status handles GET /api/v1/backend/status
func (h *BackendHandler) Status(c *gin.Context) {
	report, checked := h.monitor.Report()
	response.Success(c, gin.H{
		"available":  h.monitor.Available(),
		"checked":    checked,
		"baseUrl":    h.baseURL,
		"lastReport": report,
	})
}

// Check handles POST /api/v1/backend/check
func (h *BackendHandler) Check(c *gin.Context) {
	report := h.monitor.Check(c.Request.Context())
	response.Success(c, report)
}
