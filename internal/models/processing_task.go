package models

import (
	"time"

	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// ProcessingTask is one batch of uploaded images tracked through the external job backend
type ProcessingTask struct {
	ID            string `json:"id"`
	NodeODMTaskID string `json:"nodeodm_task_id"`
	TaskName      string `json:"task_name,omitempty"`

	// Status is always normalized; RawStatus keeps the last string the backend sent
	Status    taskstatus.Status `json:"status"`
	RawStatus string            `json:"raw_status,omitempty"`
	Progress  float64           `json:"progress"` // 0-100

	FileCount int      `json:"file_count"`
	Files     []string `json:"files"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the task no longer needs polling
func (t *ProcessingTask) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand out of the tracker
func (t ProcessingTask) Clone() ProcessingTask {
	if t.Files != nil {
		t.Files = append([]string(nil), t.Files...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}
