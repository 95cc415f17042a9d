package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// Result file names served by the processing backend
const (
	OrthophotoFile = "orthophoto.png"
	ReportFile     = "report.pdf"
)

var (
	// ErrInvalidFilter is returned for unknown gallery filter or sort values
	ErrInvalidFilter = errors.New("invalid gallery filter")
	// ErrInvalidFileName is returned for result file names that cannot be proxied
	ErrInvalidFileName = errors.New("invalid result file name")
)

// ResultSource lists and serves processed results
type ResultSource interface {
	ListResults(ctx context.Context) ([]models.ResultSummary, error)
	GetProcessedFile(ctx context.Context, taskID, fileName string) (io.ReadCloser, string, error)
}

// TaskLister returns snapshots of tracked tasks
type TaskLister interface {
	Tasks() []models.ProcessingTask
}

// GalleryService builds the processed-output gallery
type GalleryService struct {
	results ResultSource
	tasks   TaskLister
	logger  *logrus.Entry
}

// NewGalleryService creates a new gallery service
func NewGalleryService(results ResultSource, tasks TaskLister, logger *logrus.Logger) *GalleryService {
	return &GalleryService{
		results: results,
		tasks:   tasks,
		logger:  logger.WithField("component", "gallery"),
	}
}

// List returns processed outputs matching filter. When the backend results list
// cannot be fetched, completed tasks known to the tracker are still returned.
func (s *GalleryService) List(ctx context.Context, filter models.GalleryFilter) ([]models.ProcessedOutput, error) {
	fileType, sortBy, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]models.ProcessingTask)
	for _, t := range s.tasks.Tasks() {
		tasks[t.ID] = t
	}

	results, err := s.results.ListResults(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list backend results, using tracked tasks only")
		results = nil
	}

	var outputs []models.ProcessedOutput
	seen := make(map[string]bool)
	for _, r := range results {
		if r.TaskID == "" || seen[r.TaskID] {
			continue
		}
		seen[r.TaskID] = true
		task := tasks[r.TaskID]
		if r.OrthophotoPngURL != "" {
			outputs = append(outputs, newOutput(r.TaskID, task, OrthophotoFile, models.FileTypeOrthophoto, "PNG"))
		}
		if r.ReportPdfURL != "" {
			outputs = append(outputs, newOutput(r.TaskID, task, ReportFile, models.FileTypeReport, "PDF"))
		}
	}
	for id, task := range tasks {
		if seen[id] || task.Status != taskstatus.Completed {
			continue
		}
		outputs = append(outputs, newOutput(id, task, OrthophotoFile, models.FileTypeOrthophoto, "PNG"))
	}

	filtered := outputs[:0]
	for _, o := range outputs {
		if fileType == "all" || o.FileType == fileType {
			filtered = append(filtered, o)
		}
	}
	sortOutputs(filtered, sortBy)
	return filtered, nil
}

// OpenFile proxies one result file. The caller closes the reader.
func (s *GalleryService) OpenFile(ctx context.Context, taskID, fileName string) (io.ReadCloser, string, error) {
	if taskID == "" || !validFileName(fileName) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}
	return s.results.GetProcessedFile(ctx, taskID, fileName)
}

func validFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func normalizeFilter(f models.GalleryFilter) (string, string, error) {
	fileType := strings.ToLower(strings.TrimSpace(f.FileType))
	switch fileType {
	case "":
		fileType = "all"
	case "all", models.FileTypeOrthophoto, models.FileTypeReport, models.FileTypeContour, models.FileTypeMap:
	default:
		return "", "", fmt.Errorf("%w: file type %q", ErrInvalidFilter, f.FileType)
	}

	sortBy := strings.ToLower(strings.TrimSpace(f.Sort))
	switch sortBy {
	case "":
		sortBy = models.SortNewest
	case models.SortNewest, models.SortOldest, models.SortName, models.SortSize:
	default:
		return "", "", fmt.Errorf("%w: sort %q", ErrInvalidFilter, f.Sort)
	}
	return fileType, sortBy, nil
}

func newOutput(taskID string, task models.ProcessingTask, fileName, fileType, format string) models.ProcessedOutput {
	link := ResultPath(taskID, fileName)
	created := task.CreatedAt
	if task.CompletedAt != nil {
		created = *task.CompletedAt
	}
	return models.ProcessedOutput{
		ID:             taskID + "/" + fileName,
		TaskID:         taskID,
		TaskName:       task.TaskName,
		FileName:       fileName,
		FileType:       fileType,
		OriginalFormat: format,
		PreviewURL:     link,
		DownloadURL:    link,
		CreatedAt:      created,
	}
}

// ResultPath is the dashboard proxy path of a result file
func ResultPath(taskID, fileName string) string {
	return "/api/v1/results/" + url.PathEscape(taskID) + "/" + url.PathEscape(fileName)
}

func sortOutputs(outputs []models.ProcessedOutput, sortBy string) {
	byID := func(a, b models.ProcessedOutput) bool { return a.ID < b.ID }
	newer := func(a, b time.Time) int {
		switch {
		case a.After(b):
			return -1
		case a.Before(b):
			return 1
		}
		return 0
	}

	sort.SliceStable(outputs, func(i, j int) bool {
		a, b := outputs[i], outputs[j]
		switch sortBy {
		case models.SortOldest:
			if c := newer(a.CreatedAt, b.CreatedAt); c != 0 {
				return c > 0
			}
		case models.SortName:
			if a.FileName != b.FileName {
				return a.FileName < b.FileName
			}
		case models.SortSize:
			if a.FileSize != b.FileSize {
				return a.FileSize > b.FileSize
			}
		default:
			if c := newer(a.CreatedAt, b.CreatedAt); c != 0 {
				return c < 0
			}
		}
		return byID(a, b)
	})
}
