package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UploadResponse is returned by POST /api/v1/upload/ and seeds exactly one ProcessingTask
type UploadResponse struct {
	TaskID        string   `json:"task_id"`
	NodeODMTaskID string   `json:"nodeodm_task_id"`
	FileCount     int      `json:"file_count"`
	Status        string   `json:"status"`
	Files         []string `json:"files"`
	CreatedAt     string   `json:"created_at"`
	TaskName      string   `json:"task_name,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// backend timestamps come from Python isoformat(), usually without a zone
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// CreatedTime parses CreatedAt, falling back to the supplied time.
func (u UploadResponse) CreatedTime(fallback time.Time) time.Time {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, u.CreatedAt); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// UploadRequest carries the optional form fields sent with an upload
type UploadRequest struct {
	TaskName string
	Heading  *float64
	GridSize *float64
}

// TaskStatusResponse is returned by GET /api/v1/upload/{task_id}/status
type TaskStatusResponse struct {
	Status   string    `json:"status"`
	Progress FlexFloat `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

// FlexFloat decodes a number that may arrive either as a JSON number or a numeric string
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(str), "%")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid progress value %s: %w", string(data), err)
	}
	*f = FlexFloat(v)
	return nil
}

// ResultSummary is one entry of GET /api/v1/results/
type ResultSummary struct {
	TaskID           string `json:"taskId"`
	OrthophotoPngURL string `json:"orthophotoPngUrl"`
	ReportPdfURL     string `json:"reportPdfUrl,omitempty"`
	TaskName         string `json:"taskName,omitempty"`
}

// HealthResponse is returned by GET /health on the processing backend
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ConnectionReport describes the outcome of a connectivity probe
type ConnectionReport struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	URL       string    `json:"url"`
	CheckedAt time.Time `json:"checked_at"`
}
