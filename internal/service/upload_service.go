package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/backend"
	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

var (
	// ErrInvalidUpload is returned for batches rejected before reaching the backend
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrBackendUnavailable is returned when the processing backend fails its health check
	ErrBackendUnavailable = errors.New("processing backend unavailable")
	// ErrUploadFailed wraps errors returned by the backend upload call
	ErrUploadFailed = errors.New("upload failed")
)

// accepted image extensions, lower case
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// Uploader sends image batches to the processing backend
type Uploader interface {
	UploadFiles(ctx context.Context, files []backend.UploadFile, opts models.UploadRequest) (*models.UploadResponse, error)
}

// Availability reports whether the processing backend can be reached
type Availability interface {
	Available() bool
	Check(ctx context.Context) models.ConnectionReport
}

// TaskIngester registers accepted uploads for tracking
type TaskIngester interface {
	RecordPending(ctx context.Context, resp models.UploadResponse) error
	Ingest(ctx context.Context, resp models.UploadResponse) (bool, error)
}

// UploadService validates image batches and hands them to the backend and the tracker
type UploadService struct {
	uploader Uploader
	health   Availability
	tasks    TaskIngester
	maxFiles int
	logger   *logrus.Entry
}

// NewUploadService creates a new upload service
func NewUploadService(uploader Uploader, health Availability, tasks TaskIngester, maxFiles int, logger *logrus.Logger) *UploadService {
	return &UploadService{
		uploader: uploader,
		health:   health,
		tasks:    tasks,
		maxFiles: maxFiles,
		logger:   logger.WithField("component", "upload"),
	}
}

// Validate checks the batch size and file types
func (s *UploadService) Validate(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no files selected", ErrInvalidUpload)
	}
	if s.maxFiles > 0 && len(names) > s.maxFiles {
		return fmt.Errorf("%w: %d files selected, at most %d allowed", ErrInvalidUpload, len(names), s.maxFiles)
	}
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			return fmt.Errorf("%w: %s is not a supported image (jpg, jpeg, png, tif, tiff)", ErrInvalidUpload, name)
		}
	}
	return nil
}

// Upload forwards a validated batch to the backend and starts tracking the new task.
// Nothing is tracked when the backend rejects the batch.
func (s *UploadService) Upload(ctx context.Context, files []backend.UploadFile, opts models.UploadRequest) (*models.UploadResponse, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	if err := s.Validate(names); err != nil {
		return nil, err
	}

	if !s.health.Available() {
		// the last scheduled probe may be stale
		if report := s.health.Check(ctx); !report.Success {
			return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, report.Error)
		}
	}

	resp, err := s.uploader.UploadFiles(ctx, files, opts)
	if err != nil {
		s.logger.WithError(err).WithField("file_count", len(files)).Error("Upload rejected by backend")
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	entry := s.logger.WithField("task_id", resp.TaskID)
	if err := s.tasks.RecordPending(ctx, *resp); err != nil {
		entry.WithError(err).Warn("Failed to record pending upload")
	}
	if _, err := s.tasks.Ingest(ctx, *resp); err != nil {
		// the task stays in memory and the pending entry is replayed on restart
		entry.WithError(err).Error("Failed to persist new task")
	}
	return resp, nil
}
