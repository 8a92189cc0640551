// Package model defines core domain types shared across the service.
package model

import (
	"time"

	"github.com/openterra/geodata-tools/internal/geom"
)

// Wire encodings for geodata payloads.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// Row is one feature: attributes plus a geometry.
type Row struct {
	Attrs map[string]any
	Geom  geom.Geometry
}

// FeatureCollection is the in-memory geometry collection. EPSG is the CRS
// code, 0 when unknown.
type FeatureCollection struct {
	Rows []Row
	EPSG int
}

// Envelope is the wire representation of a geodata payload. CRS is nil when
// unknown, otherwise "EPSG:<code>".
type Envelope struct {
	Format   string  `json:"format"`
	Encoding string  `json:"encoding"`
	CRS      *string `json:"crs"`
	Data     string  `json:"data"`
}

type Bounds struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// BBoxResult is the bbox operation's return value; it is not an Envelope.
type BBoxResult struct {
	Format string  `json:"format"` // always "bbox"
	CRS    *string `json:"crs"`
	Bounds Bounds  `json:"bounds"`
}

// CacheEntry is the metadata record stored next to a cached result file.
// Read-only after creation.
type CacheEntry struct {
	CacheID       string         `json:"cache_id"`
	ToolName      string         `json:"tool_name"`
	Params        map[string]any `json:"params"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	FilePath      string         `json:"file_path"`
	FileSizeBytes int64          `json:"file_size_bytes"`
	Summary       map[string]any `json:"summary"`
}

// CacheReceipt is what a caller gets back from a Put: a pointer to the entry
// plus the inline summary.
type CacheReceipt struct {
	Cached     bool           `json:"cached"`
	CacheID    string         `json:"cache_id"`
	FilePath   string         `json:"file_path"`
	FileSizeKB float64        `json:"file_size_kb"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Summary    map[string]any `json:"summary"`
	Usage      string         `json:"usage"`
}

// ExportResult describes a completed cache export.
type ExportResult struct {
	Success       bool   `json:"success"`
	CacheID       string `json:"cache_id"`
	OutputPath    string `json:"output_path"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// SampledGeometry is a bounded preview over a cached geometry; never
// persisted.
type SampledGeometry struct {
	CacheID       string `json:"cache_id"`
	GeometryType  string `json:"geometry_type"`
	TotalPoints   int    `json:"total_points"`
	Coordinates   any    `json:"coordinates,omitempty"`
	Sampled       bool   `json:"sampled"`
	SamplingRatio string `json:"sampling_ratio,omitempty"`
	PolygonsCount int    `json:"polygons_count,omitempty"`
	Message       string `json:"message,omitempty"`
	BBox          any    `json:"bbox,omitempty"`
}
