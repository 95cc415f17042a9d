package models

import "time"

// FieldMap is a stitched field image derived from a processing task
type FieldMap struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       string           `json:"status"` // processing, completed, failed
	Progress     float64          `json:"progress"`
	ImageURL     string           `json:"imageUrl,omitempty"`
	ReportURL    string           `json:"reportUrl,omitempty"`
	ImageCount   int              `json:"imageCount"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Metadata     FieldMapMetadata `json:"metadata"`
}

// FieldMapMetadata carries area and provenance information
type FieldMapMetadata struct {
	FieldName     string  `json:"fieldName,omitempty"`
	AreaAcres     float64 `json:"areaAcres,omitempty"`
	Prescriptions int     `json:"prescriptions"`
}

// FieldMapSummary aggregates the field map list
type FieldMapSummary struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Processing int     `json:"processing"`
	Failed     int     `json:"failed"`
	TotalAcres float64 `json:"totalAcres"`
}

// Field map states
const (
	FieldMapProcessing = "processing"
	FieldMapCompleted  = "completed"
	FieldMapFailed     = "failed"
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AreaRequest is a field boundary submitted for an area estimate
type AreaRequest struct {
	Boundary []Point `json:"boundary" binding:"required"`
}

// AreaEstimate reports the size of a field boundary
type AreaEstimate struct {
	SquareMeters         float64 `json:"squareMeters"`
	Hectares             float64 `json:"hectares"`
	Acres                float64 `json:"acres"`
	GeodesicSquareMeters float64 `json:"geodesicSquareMeters"`
	Vertices             int     `json:"vertices"`
}
