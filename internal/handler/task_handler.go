package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/drone-imagery-dashboard/internal/tracker"
	"github.com/jengzang/drone-imagery-dashboard/pkg/response"
)

// TaskHandler exposes the tracked processing tasks
type TaskHandler struct {
	tracker *tracker.Tracker
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tracker *tracker.Tracker) *TaskHandler {
	return &TaskHandler{tracker: tracker}
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	response.Success(c, gin.H{
		"tasks":  h.tracker.Tasks(),
		"counts": h.tracker.Counts(),
	})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.tracker.Task(c.Param("id"))
	if errors.Is(err, tracker.ErrTaskNotFound) {
		response.NotFound(c, "Task not found")
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to get task", err)
		return
	}
	response.Success(c, task)
}

// DeleteTask handles DELETE /api/v1/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	err := h.tracker.Remove(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tracker.ErrTaskNotFound) {
		response.NotFound(c, "Task not found")
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to delete task", err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

// Refresh handles POST /api/v1/tasks/refresh
func (h *TaskHandler) Refresh(c *gin.Context) {
	result := h.tracker.Refresh(c.Request.Context())
	response.Success(c, gin.H{
		"result": result,
		"tasks":  h.tracker.Tasks(),
	})
}
