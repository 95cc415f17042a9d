package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
	"github.com/jengzang/drone-imagery-dashboard/internal/spatial"
)

// upper bound for either spray grid dimension
const maxGridSize = 100

// ErrInvalidPrescription is returned for rejected prescription input
var ErrInvalidPrescription = errors.New("invalid prescription")

// PrescriptionStore persists prescriptions
type PrescriptionStore interface {
	Create(ctx context.Context, p *models.Prescription) error
	GetByID(ctx context.Context, id string) (*models.Prescription, error)
	List(ctx context.Context, status string) ([]*models.Prescription, error)
	Update(ctx context.Context, p *models.Prescription) error
	Delete(ctx context.Context, id string) error
}

// PrescriptionService manages pesticide prescriptions and their spray grids
type PrescriptionService struct {
	store  PrescriptionStore
	logger *logrus.Entry
	now    func() time.Time
	edits  keyedMutex
}

// NewPrescriptionService creates a new prescription service
func NewPrescriptionService(store PrescriptionStore, logger *logrus.Logger) *PrescriptionService {
	return &PrescriptionService{
		store:  store,
		logger: logger.WithField("component", "prescriptions"),
		now:    time.Now,
	}
}

// Create stores a new prescription with an empty spray grid.
// A boundary, when given, fills in the field area.
func (s *PrescriptionService) Create(ctx context.Context, req models.CreatePrescriptionRequest) (*models.Prescription, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || strings.TrimSpace(req.FieldMapID) == "" {
		return nil, fmt.Errorf("%w: name and fieldMapId are required", ErrInvalidPrescription)
	}
	status := req.Status
	if status == "" {
		status = models.PrescriptionGenerating
	}
	if !validPrescriptionStatus(status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidPrescription, status)
	}
	rows, cols := req.Rows, req.Cols
	if rows == 0 && cols == 0 {
		rows, cols = models.DefaultGridRows, models.DefaultGridCols
	}
	if err := validateGridSize(rows, cols); err != nil {
		return nil, err
	}

	meta := req.Metadata
	if len(req.Boundary) > 0 {
		est, err := spatial.Estimate(req.Boundary)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPrescription, err)
		}
		if meta.TotalAreaAcres == 0 {
			meta.TotalAreaAcres = est.Acres
		}
	}

	now := s.now().UTC()
	id := uuid.NewString()
	p := &models.Prescription{
		ID:              id,
		Name:            name,
		FieldMapID:      req.FieldMapID,
		PrescriptionURL: "/api/v1/prescriptions/" + id + "/robot-path",
		ThumbnailURL:    ResultPath(req.FieldMapID, OrthophotoFile),
		Status:          status,
		Metadata:        meta,
		Robot:           req.Robot,
		SprayMap:        NewSprayGrid(rows, cols, models.SprayNone),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.Robot.Waypoints = 0

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"prescription_id": p.ID,
		"field_map_id":    p.FieldMapID,
	}).Info("Prescription created")
	return p, nil
}

// Get retrieves a prescription by id
func (s *PrescriptionService) Get(ctx context.Context, id string) (*models.Prescription, error) {
	return s.store.GetByID(ctx, id)
}

// List returns prescriptions, newest first. Status "all" or empty disables filtering.
func (s *PrescriptionService) List(ctx context.Context, status string) ([]*models.Prescription, error) {
	if status != "" && status != "all" && !validPrescriptionStatus(status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidPrescription, status)
	}
	return s.store.List(ctx, status)
}

// Delete removes a prescription
func (s *PrescriptionService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// SetStatus moves a prescription to another status
func (s *PrescriptionService) SetStatus(ctx context.Context, id, status string) (*models.Prescription, error) {
	if !validPrescriptionStatus(status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidPrescription, status)
	}
	return s.mutate(ctx, id, func(p *models.Prescription) error {
		p.Status = status
		return nil
	})
}

// SetCell changes one spray grid cell
func (s *PrescriptionService) SetCell(ctx context.Context, id string, req models.SetCellRequest) (*models.Prescription, error) {
	if !req.Level.Valid() {
		return nil, fmt.Errorf("%w: spray level %q", ErrInvalidPrescription, req.Level)
	}
	return s.mutate(ctx, id, func(p *models.Prescription) error {
		if req.Row < 0 || req.Row >= len(p.SprayMap) || req.Col < 0 || req.Col >= len(p.SprayMap[req.Row]) {
			return fmt.Errorf("%w: cell (%d,%d) outside the grid", ErrInvalidPrescription, req.Row, req.Col)
		}
		p.SprayMap[req.Row][req.Col] = req.Level
		return nil
	})
}

// BulkApply sets every cell of the spray grid to one level
func (s *PrescriptionService) BulkApply(ctx context.Context, id string, level models.SprayLevel) (*models.Prescription, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: spray level %q", ErrInvalidPrescription, level)
	}
	return s.mutate(ctx, id, func(p *models.Prescription) error {
		for _, row := range p.SprayMap {
			for c := range row {
				row[c] = level
			}
		}
		return nil
	})
}

// ResizeGrid replaces the spray grid with an empty one of the new size
func (s *PrescriptionService) ResizeGrid(ctx context.Context, id string, rows, cols int) (*models.Prescription, error) {
	if err := validateGridSize(rows, cols); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(p *models.Prescription) error {
		p.SprayMap = NewSprayGrid(rows, cols, models.SprayNone)
		return nil
	})
}

// RobotPath orders the sprayed cells in a serpentine sweep: left to right on
// even rows, right to left on odd rows.
func (s *PrescriptionService) RobotPath(ctx context.Context, id string) (*models.RobotPath, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildRobotPath(p), nil
}

// Stats summarizes all prescriptions
func (s *PrescriptionService) Stats(ctx context.Context) (models.PrescriptionStats, error) {
	var stats models.PrescriptionStats
	all, err := s.store.List(ctx, "")
	if err != nil {
		return stats, err
	}
	for _, p := range all {
		stats.Total++
		switch p.Status {
		case models.PrescriptionReady:
			stats.Ready++
			stats.ReadyEstimatedCost += p.Metadata.EstimatedCost
		case models.PrescriptionGenerating:
			stats.Generating++
		case models.PrescriptionFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// EstimateArea measures a field boundary
func (s *PrescriptionService) EstimateArea(points []models.Point) (models.AreaEstimate, error) {
	est, err := spatial.Estimate(points)
	if err != nil {
		return est, fmt.Errorf("%w: %w", ErrInvalidPrescription, err)
	}
	return est, nil
}

// mutate reads, edits and writes back one prescription. Edits of the same id are
// serialized so concurrent grid changes never overwrite each other.
func (s *PrescriptionService) mutate(ctx context.Context, id string, fn func(*models.Prescription) error) (*models.Prescription, error) {
	unlock := s.edits.Lock(id)
	defer unlock()

	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.Robot.Waypoints = len(BuildRobotPath(p).Waypoints)
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// keyedMutex hands out one lock per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// NewSprayGrid creates a rows x cols grid filled with level
func NewSprayGrid(rows, cols int, level models.SprayLevel) [][]models.SprayLevel {
	grid := make([][]models.SprayLevel, rows)
	for r := range grid {
		grid[r] = make([]models.SprayLevel, cols)
		for c := range grid[r] {
			grid[r][c] = level
		}
	}
	return grid
}

// Coverage counts the cells at each spray level
func Coverage(grid [][]models.SprayLevel) models.SprayCoverage {
	var cov models.SprayCoverage
	for _, row := range grid {
		for _, level := range row {
			switch level {
			case models.SprayHigh:
				cov.High++
			case models.SprayLow:
				cov.Low++
			default:
				cov.None++
			}
		}
	}
	return cov
}

// BuildRobotPath lists the cells that need spraying in serpentine order
func BuildRobotPath(p *models.Prescription) *models.RobotPath {
	path := &models.RobotPath{
		PrescriptionID: p.ID,
		Rows:           len(p.SprayMap),
		Waypoints:      []models.Waypoint{},
	}
	for r, row := range p.SprayMap {
		if len(row) > path.Cols {
			path.Cols = len(row)
		}
		for i := range row {
			c := i
			if r%2 == 1 {
				c = len(row) - 1 - i
			}
			if row[c] == models.SprayHigh || row[c] == models.SprayLow {
				path.Waypoints = append(path.Waypoints, models.Waypoint{Row: r, Col: c, Level: row[c]})
			}
		}
	}
	return path
}

func validPrescriptionStatus(s string) bool {
	switch s {
	case models.PrescriptionGenerating, models.PrescriptionReady, models.PrescriptionFailed:
		return true
	}
	return false
}

func validateGridSize(rows, cols int) error {
	if rows < 1 || cols < 1 || rows > maxGridSize || cols > maxGridSize {
		return fmt.Errorf("%w: grid %dx%d outside 1..%d", ErrInvalidPrescription, rows, cols, maxGridSize)
	}
	return nil
}
