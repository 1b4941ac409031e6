package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// Artifact records the outputs of one (variable, date) unit of work.
type Artifact struct {
	Variable   string    `json:"variable"`
	Date       string    `json:"date"`
	TilePath   string    `json:"tile_path"`
	ImagePath  string    `json:"image_path"`
	Strategy   string    `json:"strategy,omitempty"`
	NoData     bool      `json:"no_data,omitempty"`
	TileBytes  int64     `json:"tile_bytes"`
	ImageBytes int64     `json:"image_bytes"`
	ValidCells int       `json:"valid_cells"`
	ProducedAt time.Time `json:"produced_at"`
}

// Key identifies the unit, e.g. "precipitation/2026-01-28".
func (a Artifact) Key() string {
	return a.Variable + "/" + a.Date
}

// TilePath returns the deterministic GeoTIFF path for a unit.
func TilePath(dir, variable string, date time.Time) string {
	return filepath.Join(dir, variable, date.Format(DateLayout)+".tif")
}

// ImagePath returns the deterministic PNG path for a unit.
func ImagePath(dir, variable string, date time.Time) string {
	return filepath.Join(dir, variable, date.Format(DateLayout)+".png")
}

// StampArtifact sets ProducedAt from the package clock.
func StampArtifact(a Artifact) Artifact {
	a.ProducedAt = clock.Now().UTC()
	return a
}

// GapPolicy decides what a failed (variable, date) unit leaves behind.
type GapPolicy string

const (
	// GapSkip omits the date from the outputs.
	GapSkip GapPolicy = "skip"
	// GapNoData writes an all-NaN tile and a transparent frame flagged as no data.
	GapNoData GapPolicy = "nodata"
)

// ParseGapPolicy accepts "skip" or "nodata".
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch p := GapPolicy(s); p {
	case GapSkip, GapNoData:
		return p, nil
	}
	return "", fmt.Errorf("unknown gap policy %q", s)
}
