package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/taskstatus"
)

// FieldMapService derives field maps from tracked tasks
type FieldMapService struct {
	tasks         TaskLister
	results       ResultSource
	prescriptions PrescriptionStore
	logger        *logrus.Entry
}

// NewFieldMapService creates a new field map service
func NewFieldMapService(tasks TaskLister, results ResultSource, prescriptions PrescriptionStore, logger *logrus.Logger) *FieldMapService {
	return &FieldMapService{
		tasks:         tasks,
		results:       results,
		prescriptions: prescriptions,
		logger:        logger.WithField("component", "fieldmaps"),
	}
}

// List returns one field map per tracked task, plus totals
func (s *FieldMapService) List(ctx context.Context) ([]models.FieldMap, models.FieldMapSummary, error) {
	var summary models.FieldMapSummary

	results, err := s.results.ListResults(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list backend results, field maps have no images")
	}
	byTask := make(map[string]models.ResultSummary, len(results))
	for _, r := range results {
		byTask[r.TaskID] = r
	}

	prescriptions, err := s.prescriptions.List(ctx, "")
	if err != nil {
		return nil, summary, fmt.Errorf("failed to load prescriptions: %w", err)
	}
	linked := make(map[string][]*models.Prescription)
	for _, p := range prescriptions {
		linked[p.FieldMapID] = append(linked[p.FieldMapID], p)
	}

	tasks := s.tasks.Tasks()
	maps := make([]models.FieldMap, 0, len(tasks))
	for _, t := range tasks {
		fm := models.FieldMap{
			ID:           t.ID,
			Name:         fieldMapName(t),
			Status:       fieldMapStatus(t.Status),
			Progress:     t.Progress,
			ImageCount:   t.FileCount,
			CreatedAt:    t.CreatedAt,
			CompletedAt:  t.CompletedAt,
			ErrorMessage: t.ErrorMessage,
		}
		if r, ok := byTask[t.ID]; ok {
			if r.OrthophotoPngURL != "" {
				fm.ImageURL = ResultPath(t.ID, OrthophotoFile)
			}
			if r.ReportPdfURL != "" {
				fm.ReportURL = ResultPath(t.ID, ReportFile)
			}
		}
		for _, p := range linked[t.ID] {
			fm.Metadata.Prescriptions++
			if p.Metadata.TotalAreaAcres > fm.Metadata.AreaAcres {
				fm.Metadata.AreaAcres = p.Metadata.TotalAreaAcres
			}
			if fm.Metadata.FieldName == "" {
				fm.Metadata.FieldName = p.Metadata.FieldName
			}
		}

		summary.Total++
		switch fm.Status {
		case models.FieldMapCompleted:
			summary.Completed++
		case models.FieldMapFailed:
			summary.Failed++
		default:
			summary.Processing++
		}
		summary.TotalAcres += fm.Metadata.AreaAcres
		maps = append(maps, fm)
	}
	return maps, summary, nil
}

func fieldMapName(t models.ProcessingTask) string {
	if t.TaskName != "" {
		return t.TaskName
	}
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Field map " + id
}

func fieldMapStatus(s taskstatus.Status) string {
	switch s {
	case taskstatus.Completed:
		return models.FieldMapCompleted
	case taskstatus.Failed:
		return models.FieldMapFailed
	default:
		return models.FieldMapProcessing
	}
}
