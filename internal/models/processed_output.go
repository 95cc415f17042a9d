package models

import "time"

// FileType values for processed outputs
const (
	FileTypeOrthophoto = "orthophoto"
	FileTypeContour    = "contour"
	FileTypeMap        = "map"
	FileTypeReport     = "report"
)

// ProcessedOutput is a completed artifact produced by a processing job
type ProcessedOutput struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"taskId"`
	TaskName       string         `json:"taskName,omitempty"`
	FileName       string         `json:"fileName"`
	FileType       string         `json:"fileType"`
	OriginalFormat string         `json:"originalFormat"`
	PreviewURL     string         `json:"previewUrl"`
	DownloadURL    string         `json:"downloadUrl"`
	FileSize       int64          `json:"fileSize"`
	CreatedAt      time.Time      `json:"createdAt"`
	Metadata       OutputMetadata `json:"metadata"`
}

// OutputMetadata describes resolution and georeferencing of an output
type OutputMetadata struct {
	Resolution     float64         `json:"resolution,omitempty"` // cm/pixel
	Area           string          `json:"area,omitempty"`
	Dimensions     *Dimensions     `json:"dimensions,omitempty"`
	Georeferencing *Georeferencing `json:"georeferencing,omitempty"`
}

// Dimensions in pixels
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Georeferencing bounds in projection units (degrees for EPSG:4326)
type Georeferencing struct {
	Bounds     Bounds `json:"bounds"`
	Projection string `json:"projection,omitempty"`
}

// Bounds is an axis-aligned extent, X = longitude, Y = latitude
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// GalleryFilter selects outputs for the gallery view
type GalleryFilter struct {
	FileType string `form:"fileType"` // all, orthophoto, report, contour, map
	Sort     string `form:"sort"`     // newest, oldest, name, size
}

// Gallery sort options
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortName   = "name"
	SortSize   = "size"
)
