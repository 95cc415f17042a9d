package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/drone-imagery-dashboard/internal/models"
)

// ErrPrescriptionNotFound is returned when no row matches the requested id
var ErrPrescriptionNotFound = errors.New("prescription not found")

// PrescriptionRepository handles database operations for pesticide prescriptions
type PrescriptionRepository struct {
	db *sql.DB
}

// NewPrescriptionRepository creates a new prescription repository
func NewPrescriptionRepository(db *sql.DB) *PrescriptionRepository {
	return &PrescriptionRepository{db: db}
}

const prescriptionColumns = `id, name, field_map_id, prescription_url, thumbnail_url, status,
	metadata_json, robot_json, spray_map_json, created_at, updated_at`

// Create inserts a new prescription
func (r *PrescriptionRepository) Create(ctx context.Context, p *models.Prescription) error {
	metadata, robot, sprayMap, err := encodePrescription(p)
	if err != nil {
		return err
	}

	query := `INSERT INTO prescriptions (` + prescriptionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.FieldMapID,
		p.PrescriptionURL,
		p.ThumbnailURL,
		p.Status,
		metadata,
		robot,
		sprayMap,
		p.CreatedAt.UnixMilli(),
		p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

// GetByID retrieves a prescription by id
func (r *PrescriptionRepository) GetByID(ctx context.Context, id string) (*models.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = ?`
	p, err := scanPrescription(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPrescriptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return p, nil
}

// List retrieves prescriptions, newest first, optionally filtered by status
func (r *PrescriptionRepository) List(ctx context.Context, status string) ([]*models.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE 1=1`
	args := []interface{}{}
	if status != "" && status != "all" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update overwrites the mutable fields of a prescription
func (r *PrescriptionRepository) Update(ctx context.Context, p *models.Prescription) error {
	metadata, robot, sprayMap, err := encodePrescription(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE prescriptions
		SET name = ?, field_map_id = ?, prescription_url = ?, thumbnail_url = ?, status = ?,
			metadata_json = ?, robot_json = ?, spray_map_json = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.FieldMapID,
		p.PrescriptionURL,
		p.ThumbnailURL,
		p.Status,
		metadata,
		robot,
		sprayMap,
		p.UpdatedAt.UnixMilli(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update prescription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPrescriptionNotFound, p.ID)
	}
	return nil
}

// Delete removes a prescription
func (r *PrescriptionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM prescriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete prescription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPrescriptionNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrescription(row rowScanner) (*models.Prescription, error) {
	var (
		p                         models.Prescription
		metadata, robot, sprayMap string
		createdAt, updatedAt      int64
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.FieldMapID,
		&p.PrescriptionURL,
		&p.ThumbnailURL,
		&p.Status,
		&metadata,
		&robot,
		&sprayMap,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(robot), &p.Robot); err != nil {
		return nil, fmt.Errorf("decode robot instructions for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(sprayMap), &p.SprayMap); err != nil {
		return nil, fmt.Errorf("decode spray map for %s: %w", p.ID, err)
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

func encodePrescription(p *models.Prescription) (string, string, string, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	robot, err := json.Marshal(p.Robot)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to serialize robot instructions: %w", err)
	}
	sprayMap := []byte("[]")
	if p.SprayMap != nil {
		sprayMap, err = json.Marshal(p.SprayMap)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to serialize spray map: %w", err)
		}
	}
	return string(metadata), string(robot), string(sprayMap), nil
}
