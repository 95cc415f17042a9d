package models

import "time"

// PrescriptionStatus constants
const (
	PrescriptionGenerating = "generating"
	PrescriptionReady      = "ready"
	PrescriptionFailed     = "failed"
)

// SprayLevel is the application intensity of one grid cell
type SprayLevel string

const (
	SprayHigh SprayLevel = "high"
	SprayLow  SprayLevel = "low"
	SprayNone SprayLevel = "no"
)

// Valid reports whether l is a known spray level
func (l SprayLevel) Valid() bool {
	return l == SprayHigh || l == SprayLow || l == SprayNone
}

// Default spray grid size
const (
	DefaultGridRows = 8
	DefaultGridCols = 12
)

// Prescription is a pesticide application plan for one field map
type Prescription struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	FieldMapID      string               `json:"fieldMapId"`
	PrescriptionURL string               `json:"prescriptionUrl"`
	ThumbnailURL    string               `json:"thumbnailUrl"`
	Status          string               `json:"status"`
	Metadata        PrescriptionMetadata `json:"metadata"`
	Robot           RobotInstructions    `json:"robotInstructions"`
	SprayMap        [][]SprayLevel       `json:"sprayMap"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// PrescriptionMetadata is agronomic detail for a prescription
type PrescriptionMetadata struct {
	FieldName       string  `json:"fieldName"`
	CropType        string  `json:"cropType"`
	PestType        string  `json:"pestType"`
	PesticideType   string  `json:"pesticideType"`
	ApplicationRate string  `json:"applicationRate"` // e.g. "2.5 L/ha"
	TotalAreaAcres  float64 `json:"totalAreaAcres"`
	EstimatedCost   float64 `json:"estimatedCost"`
	RobotCompatible bool    `json:"robotCompatible"`
}

// RobotInstructions describe the ground robot run for a prescription
type RobotInstructions struct {
	PathFile          string `json:"pathFile"`
	Waypoints         int    `json:"waypoints"`
	EstimatedDuration string `json:"estimatedDuration"`
	BatteryRequired   string `json:"batteryRequired"`
}

// PrescriptionStats summarizes the prescription list
type PrescriptionStats struct {
	Total              int     `json:"total"`
	Ready              int     `json:"ready"`
	Generating         int     `json:"generating"`
	Failed             int     `json:"failed"`
	ReadyEstimatedCost float64 `json:"readyEstimatedCost"`
}

// SprayCoverage counts cells per spray level
type SprayCoverage struct {
	High int `json:"high"`
	Low  int `json:"low"`
	None int `json:"no"`
}

// CreatePrescriptionRequest is the payload for creating a prescription
type CreatePrescriptionRequest struct {
	Name       string               `json:"name" binding:"required"`
	FieldMapID string               `json:"fieldMapId" binding:"required"`
	Status     string               `json:"status"`
	Metadata   PrescriptionMetadata `json:"metadata"`
	Robot      RobotInstructions    `json:"robotInstructions"`
	Rows       int                  `json:"rows"`
	Cols       int                  `json:"cols"`
	Boundary   []Point              `json:"boundary"`
}

// SetCellRequest changes one spray grid cell
type SetCellRequest struct {
	Row   int        `json:"row"`
	Col   int        `json:"col"`
	Level SprayLevel `json:"level" binding:"required"`
}

// BulkApplyRequest sets every cell of the spray grid
type BulkApplyRequest struct {
	Level SprayLevel `json:"level" binding:"required"`
}

// ResizeGridRequest changes the spray grid dimensions
type ResizeGridRequest struct {
	Rows int `json:"rows" binding:"required"`
	Cols int `json:"cols" binding:"required"`
}

// StatusUpdateRequest moves a prescription to another status
type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

// Waypoint is one spray stop of a robot path
type Waypoint struct {
	Row   int        `json:"row"`
	Col   int        `json:"col"`
	Level SprayLevel `json:"level"`
}

// RobotPath is the ordered list of cells a ground robot visits
type RobotPath struct {
	PrescriptionID string     `json:"prescriptionId"`
	Rows           int        `json:"rows"`
	Cols           int        `json:"cols"`
	Waypoints      []Waypoint `json:"waypoints"`
}
