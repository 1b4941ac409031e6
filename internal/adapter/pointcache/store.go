// Package pointcache persists provider time series as one JSON file per
// (variable, point) and reads them back as sample series.
//
// Layout: <dir>/<variable cache name>/<lat>_<lon>.json, where coordinates are
// written in their shortest round-trip form with at least one decimal
// ("39.0_-9.1.json"). A file holds {"lat","lon","dates","values"} with null
// for missing values.
package pointcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// ErrNoCachedPoints is returned by LoadSeries when none of the points has a
// cache file for the variable.
var ErrNoCachedPoints = errors.New("no cached points")

// Record is the time series of one variable at one point.
type Record struct {
	Lat    float64    `json:"lat"`
	Lon    float64    `json:"lon"`
	Dates  []string   `json:"dates"`
	Values []*float64 `json:"values"`
}

// Store reads and writes cache files under a root directory.
// It implements pipeline.SeriesLoader.
type Store struct {
	dir    string
	points []boundary.Point
	logger *slog.Logger
}

// New creates a Store over dir for the given sample points.
func New(dir string, points []boundary.Point, logger *slog.Logger) *Store {
	return &Store{dir: dir, points: points, logger: logger}
}

// Points returns the sample points the store reads.
func (s *Store) Points() []boundary.Point { return s.points }

// FileName returns the cache file name of a point.
func FileName(p boundary.Point) string {
	return formatCoord(p.Lat) + "_" + formatCoord(p.Lon) + ".json"
}

func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Path returns the cache file of variable v at point p.
func (s *Store) Path(v domain.Variable, p boundary.Point) string {
	return filepath.Join(s.dir, v.CacheName, FileName(p))
}

// Has reports whether a cache file exists for v at p.
func (s *Store) Has(v domain.Variable, p boundary.Point) bool {
	_, err := os.Stat(s.Path(v, p))
	return err == nil
}

// Write stores r as the cache file of v at the record's point.
func (s *Store) Write(v domain.Variable, r Record) error {
	if len(r.Dates) != len(r.Values) {
		return fmt.Errorf("record %v,%v: %d dates but %d values", r.Lat, r.Lon, len(r.Dates), len(r.Values))
	}
	path := s.Path(v, boundary.Point{Lat: r.Lat, Lon: r.Lon})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize cache record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Read loads the cache file of v at p. ok is false when the file is absent.
func (s *Store) Read(v domain.Variable, p boundary.Point) (r Record, ok bool, err error) {
	path := s.Path(v, p)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(r.Dates) != len(r.Values) {
		return Record{}, false, fmt.Errorf("decode %s: %d dates but %d values", path, len(r.Dates), len(r.Values))
	}
	return r, true, nil
}

// LoadSeries reads every point's file for v and groups the finite values by
// date. Dates outside dates are ignored, as are points without a file.
func (s *Store) LoadSeries(ctx context.Context, v domain.Variable, dates []time.Time) (domain.SampleSeries, error) {
	wanted := make(map[string]time.Time, len(dates))
	for _, d := range dates {
		wanted[d.Format(domain.DateLayout)] = d
	}

	byDate := make(map[time.Time][]domain.Sample)
	loaded := 0
	for _, p := range s.points {
		if err := ctx.Err(); err != nil {
			return domain.SampleSeries{}, err
		}
		r, ok, err := s.Read(v, p)
		if err != nil {
			return domain.SampleSeries{}, err
		}
		if !ok {
			continue
		}
		loaded++
		for i, ds := range r.Dates {
			date, want := wanted[ds]
			if !want || r.Values[i] == nil {
				continue
			}
			val := *r.Values[i]
			if math.IsNaN(val) || math.IsInf(val, 0) {
				continue
			}
			byDate[date] = append(byDate[date], domain.Sample{Lat: r.Lat, Lon: r.Lon, Value: val})
		}
	}

	if loaded == 0 {
		return domain.SampleSeries{}, fmt.Errorf("%w for %s in %s", ErrNoCachedPoints, v.ID, filepath.Join(s.dir, v.CacheName))
	}
	s.logger.Info("cache loaded",
		"variable", v.ID,
		"files", loaded,
		"missing", len(s.points)-loaded,
		"dates", len(byDate),
	)
	return domain.NewSampleSeries(v.ID, byDate), nil
}
