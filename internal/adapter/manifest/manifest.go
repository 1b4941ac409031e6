// Package manifest writes the frontend catalog of produced raster frames.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// CRS is the coordinate reference system of every produced tile.
const CRS = domain.CRS

// Frame is one dated image of a layer.
type Frame struct {
	Date   string `json:"date"`
	URL    string `json:"url"`
	NoData bool   `json:"no_data,omitempty"`
}

// Layer lists the frames of one variable in date order.
type Layer struct {
	Bounds [4]float64 `json:"bounds"`
	Frames []Frame    `json:"frames"`
}

// COG describes where the canonical tiles live.
type COG struct {
	Dirs map[string]string `json:"dirs"`
	CRS  string            `json:"crs"`
}

// Document is the manifest. Layers are keyed by variable ID with dashes
// replaced by underscores, e.g. "soil_moisture".
type Document struct {
	GeneratedAt time.Time
	Layers      map[string]Layer
	COG         COG
}

// MarshalJSON flattens the layers next to the "cog" and "generated_at" keys.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Layers)+2)
	for k, l := range d.Layers {
		out[k] = l
	}
	out["cog"] = d.COG
	out["generated_at"] = d.GeneratedAt.UTC().Format(time.RFC3339)
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Layers = make(map[string]Layer)
	for k, v := range raw {
		switch k {
		case "cog":
			if err := json.Unmarshal(v, &d.COG); err != nil {
				return fmt.Errorf("cog: %w", err)
			}
		case "generated_at":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("generated_at: %w", err)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("generated_at: %w", err)
			}
			d.GeneratedAt = t
		default:
			var l Layer
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("layer %s: %w", k, err)
			}
			d.Layers[k] = l
		}
	}
	return nil
}

// LayerKey returns the manifest key of a variable ID.
func LayerKey(variable string) string {
	return strings.ReplaceAll(variable, "-", "_")
}

// Builder turns produced artifacts into a Document. URLs and directories are
// written relative to BaseDir with forward slashes.
type Builder struct {
	BaseDir string
	COGDir  string
	Bounds  [4]float64
}

// Build groups artifacts by variable. Every variable in variables gets a
// layer, even when it produced no frame.
func (b Builder) Build(variables []string, artifacts []domain.Artifact) (Document, error) {
	doc := Document{
		GeneratedAt: domain.Now().UTC(),
		Layers:      make(map[string]Layer, len(variables)),
		COG:         COG{Dirs: make(map[string]string, len(variables)), CRS: CRS},
	}
	for _, v := range variables {
		key := LayerKey(v)
		doc.Layers[key] = Layer{Bounds: b.Bounds, Frames: []Frame{}}
		dir, err := b.rel(filepath.Join(b.COGDir, v))
		if err != nil {
			return Document{}, err
		}
		doc.COG.Dirs[key] = dir + "/"
	}

	for _, a := range artifacts {
		key := LayerKey(a.Variable)
		l, ok := doc.Layers[key]
		if !ok {
			return Document{}, fmt.Errorf("artifact %s: variable not in manifest", a.Key())
		}
		url, err := b.rel(a.ImagePath)
		if err != nil {
			return Document{}, err
		}
		l.Frames = append(l.Frames, Frame{Date: a.Date, URL: url, NoData: a.NoData})
		doc.Layers[key] = l
	}
	for k, l := range doc.Layers {
		sort.Slice(l.Frames, func(i, j int) bool { return l.Frames[i].Date < l.Frames[j].Date })
		doc.Layers[k] = l
	}
	return doc, nil
}

func (b Builder) rel(path string) (string, error) {
	r, err := filepath.Rel(b.BaseDir, path)
	if err != nil {
		return "", fmt.Errorf("manifest path %s: %w", path, err)
	}
	return filepath.ToSlash(r), nil
}

// WriteFile writes doc as indented JSON, replacing path atomically.
func WriteFile(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadFile loads a manifest written by WriteFile.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read manifest: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode manifest: %w", err)
	}
	if len(doc.Layers) == 0 {
		return Document{}, errors.New("decode manifest: no layers")
	}
	return doc, nil
}
