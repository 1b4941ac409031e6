// Package boundary loads the region-of-interest polygon and turns it into
// inclusion grids.
//
// A Polygon is built once per run and is read-only afterwards, so it is safe
// to share across workers. The same polygon serves two purposes: Buffered(d)
// selects the provider points worth fetching and interpolating, and the raw
// polygon masks the final raster. Points lying exactly on a ring are outside
// in both cases.
package boundary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// ErrEmptyBoundary is returned when a source holds no polygonal geometry.
var ErrEmptyBoundary = errors.New("boundary has no polygons")

// edge is one ring segment, tagged with the polygon it belongs to.
type edge struct {
	poly           int
	x1, y1, x2, y2 float64
}

// Polygon is a dissolved (multi)polygon with an R-tree over its ring edges.
type Polygon struct {
	mp     *geom.MultiPolygon
	edges  *rtree.RTreeG[edge]
	nedges int
	buffer float64
}

// NewPolygon indexes mp. It returns ErrEmptyBoundary when mp has no rings.
func NewPolygon(mp *geom.MultiPolygon) (*Polygon, error) {
	if mp == nil || mp.NumPolygons() == 0 {
		return nil, ErrEmptyBoundary
	}
	p := &Polygon{mp: mp, edges: &rtree.RTreeG[edge]{}}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			flat := poly.LinearRing(r).FlatCoords()
			stride := poly.Stride()
			for k := 0; k+2*stride <= len(flat); k += stride {
				e := edge{poly: i, x1: flat[k], y1: flat[k+1], x2: flat[k+stride], y2: flat[k+stride+1]}
				p.edges.Insert(
					[2]float64{math.Min(e.x1, e.x2), math.Min(e.y1, e.y2)},
					[2]float64{math.Max(e.x1, e.x2), math.Max(e.y1, e.y2)},
					e,
				)
				p.nedges++
			}
		}
	}
	if p.nedges == 0 {
		return nil, ErrEmptyBoundary
	}
	return p, nil
}

// Buffered returns a view of the polygon grown by d degrees. The view shares
// the edge index with p.
func (p *Polygon) Buffered(d float64) *Polygon {
	return &Polygon{mp: p.mp, edges: p.edges, nedges: p.nedges, buffer: d}
}

// Buffer is the distance the region extends past the rings.
func (p *Polygon) Buffer() float64 { return p.buffer }

// NumPolygons is the number of member polygons.
func (p *Polygon) NumPolygons() int { return p.mp.NumPolygons() }

// Bounds returns [west, south, east, north] of the region, buffer included.
func (p *Polygon) Bounds() [4]float64 {
	b := p.mp.Bounds()
	return [4]float64{b.Min(0) - p.buffer, b.Min(1) - p.buffer, b.Max(0) + p.buffer, b.Max(1) + p.buffer}
}

// Contains reports whether (lon, lat) lies strictly inside the region. This
// is the per-point test; Build gives the same answers in bulk.
func (p *Polygon) Contains(lon, lat float64) bool {
	c := geom.Coord{lon, lat}
	for i := 0; i < p.mp.NumPolygons(); i++ {
		if interior(p.mp.Polygon(i), c) {
			return true
		}
	}
	return p.buffer > 0 && p.nearEdge(lon, lat)
}

func interior(poly *geom.Polygon, c geom.Coord) bool {
	layout := poly.Layout()
	if xy.LocatePointInRing(layout, c, poly.LinearRing(0).FlatCoords()) != location.Interior {
		return false
	}
	for r := 1; r < poly.NumLinearRings(); r++ {
		if xy.LocatePointInRing(layout, c, poly.LinearRing(r).FlatCoords()) != location.Exterior {
			return false
		}
	}
	return true
}

// nearEdge reports whether some ring segment is closer than the buffer.
func (p *Polygon) nearEdge(lon, lat float64) bool {
	d := p.buffer
	c := geom.Coord{lon, lat}
	near := false
	p.edges.Search([2]float64{lon - d, lat - d}, [2]float64{lon + d, lat + d},
		func(_, _ [2]float64, e edge) bool {
			if xy.DistanceFromPointToLine(c, geom.Coord{e.x1, e.y1}, geom.Coord{e.x2, e.y2}) < d {
				near = true
				return false
			}
			return true
		})
	return near
}

// Load reads a boundary from a GeoJSON (.geojson, .json) or ESRI Shapefile
// (.shp) file and dissolves every polygonal member into one region.
func Load(path string) (*Polygon, error) {
	var (
		mp  *geom.MultiPolygon
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		mp, err = readShapefile(path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read boundary %s: %w", path, err)
		}
		mp, err = ParseGeoJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("load boundary %s: %w", path, err)
	}
	return NewPolygon(mp)
}

// ParseGeoJSON accepts a FeatureCollection, a Feature, or a bare geometry.
func ParseGeoJSON(data []byte) (*geom.MultiPolygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var geoms []geom.T
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		var g geom.T
		if err := geojson.Unmarshal(bytes.TrimSpace(data), &g); err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		geoms = append(geoms, g)
	}
	return dissolve(geoms)
}

// dissolve collects every polygon of geoms into one XY multipolygon.
// Members are assumed not to overlap, as with administrative districts.
func dissolve(geoms []geom.T) (*geom.MultiPolygon, error) {
	out := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	push := func(p *geom.Polygon) error {
		if p.Empty() {
			return nil
		}
		if p.Layout() != geom.XY {
			p = flattenXY(p)
		}
		return out.Push(p)
	}
	for _, g := range geoms {
		switch t := g.(type) {
		case *geom.Polygon:
			if err := push(t); err != nil {
				return nil, err
			}
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				if err := push(t.Polygon(i)); err != nil {
					return nil, err
				}
			}
		}
	}
	if out.NumPolygons() == 0 {
		return nil, ErrEmptyBoundary
	}
	return out, nil
}

func flattenXY(p *geom.Polygon) *geom.Polygon {
	stride := p.Stride()
	src := p.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	ends := make([]int, len(p.Ends()))
	for i, e := range p.Ends() {
		ends[i] = e / stride * 2
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

// readShapefile converts polygon records into go-geom polygons. Shapefile
// outer rings run clockwise and holes counter-clockwise; a hole is attached
// to the outer ring that precedes it.
func readShapefile(path string) (*geom.MultiPolygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer func() { _ = reader.Close() }()

	var geoms []geom.T
	for reader.Next() {
		_, shape := reader.Shape()
		s, ok := shape.(*shp.Polygon)
		if !ok || s == nil || s.NumParts == 0 {
			continue
		}
		geoms = append(geoms, shapePolygons(s)...)
	}
	return dissolve(geoms)
}

func shapePolygons(s *shp.Polygon) []geom.T {
	var (
		out     []geom.T
		flat    []float64
		ends    []int
		hasRing bool
	)
	flush := func() {
		if hasRing {
			out = append(out, geom.NewPolygonFlat(geom.XY, flat, ends))
		}
		flat, ends, hasRing = nil, nil, false
	}
	for i := int32(0); i < s.NumParts; i++ {
		start := s.Parts[i]
		end := int32(len(s.Points))
		if i+1 < s.NumParts {
			end = s.Parts[i+1]
		}
		ring := make([]float64, 0, 2*(end-start+1))
		for j := start; j < end; j++ {
			ring = append(ring, s.Points[j].X, s.Points[j].Y)
		}
		ring = closeRing(ring)
		if len(ring) < 8 {
			continue
		}
		if !xy.IsRingCounterClockwise(geom.XY, ring) || !hasRing {
			flush()
			hasRing = true
		}
		flat = append(flat, ring...)
		ends = append(ends, len(flat))
	}
	flush()
	return out
}

func closeRing(ring []float64) []float64 {
	n := len(ring)
	if n >= 4 && (ring[0] != ring[n-2] || ring[1] != ring[n-1]) {
		ring = append(ring, ring[0], ring[1])
	}
	return ring
}
