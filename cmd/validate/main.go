// Command validate checks the outputs of a raster run against each other and
// against the job configuration: the manifest, every GeoTIFF tile and every
// PNG frame. It reports pass/fail per phase and exits non-zero on failure.
//
// Usage:
//
//	go run ./cmd/validate -manifest data/frontend/raster-manifest.json
//
// Directories, domain, and dates come from the same environment variables as
// the etl command.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/manifest"
	"github.com/lunasilvestre/cheias-pt/internal/config"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/geotiff"
)

// Output budgets checked as warnings.
const (
	maxFrameBytes = 300 * 1024
	maxTotalBytes = 50 * 1000 * 1000
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	manifestPath := flag.String("manifest", "", "path to raster-manifest.json (default: MANIFEST_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if *manifestPath != "" {
		cfg.ManifestPath = *manifestPath
	}
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	fmt.Println("=== Raster Output Validation ===")
	fmt.Println()

	doc, err := manifest.ReadFile(cfg.ManifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	baseDir := filepath.Dir(cfg.FramesDir)
	units := collectUnits(cfg, doc)

	stats := make(map[string][]float64)
	phases := []*phase{
		validateManifest(cfg, doc),
		validateTiles(cfg, units, stats),
		validateFrames(cfg, baseDir, units),
		validateBudget(units),
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		} else if len(p.warnings) > 0 {
			status = fmt.Sprintf("\033[33mPASS (%d warnings)\033[0m", len(p.warnings))
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Units: %d in manifest\n", len(units))
	for _, id := range cfg.Variables {
		vals := stats[id]
		if len(vals) == 0 {
			fmt.Printf("  %-16s no valid cells\n", id)
			continue
		}
		fmt.Printf("  %-16s range %.4f → %.4f, mean %.4f over %d cells\n",
			id, floats.Min(vals), floats.Max(vals), floats.Sum(vals)/float64(len(vals)), len(vals))
	}

	for _, p := range phases {
		if p.passed() && len(p.warnings) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		for _, w := range p.warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// unit is one manifest frame with its on-disk counterparts.
type unit struct {
	variable  string
	frame     manifest.Frame
	tilePath  string
	imagePath string
	tile      *geotiff.Raster
}

func collectUnits(cfg *config.Config, doc manifest.Document) []unit {
	var out []unit
	for _, id := range cfg.Variables {
		layer, ok := doc.Layers[manifest.LayerKey(id)]
		if !ok {
			continue
		}
		for _, f := range layer.Frames {
			date, err := domain.ParseDate(f.Date)
			if err != nil {
				continue
			}
			out = append(out, unit{
				variable:  id,
				frame:     f,
				tilePath:  domain.TilePath(cfg.COGDir, id, date),
				imagePath: domain.ImagePath(cfg.FramesDir, id, date),
			})
		}
	}
	return out
}

// ── Phase 1: manifest ──

func validateManifest(cfg *config.Config, doc manifest.Document) *phase {
	p := &phase{name: "Manifest structure"}
	fmt.Println("Phase 1: Manifest structure")

	if doc.COG.CRS != manifest.CRS {
		p.errorf("cog.crs is %q, want %q", doc.COG.CRS, manifest.CRS)
	}
	if doc.GeneratedAt.IsZero() {
		p.errorf("generated_at is missing")
	}
	want := cfg.Domain.Bounds()
	expected := cfg.Dates()

	for _, id := range cfg.Variables {
		key := manifest.LayerKey(id)
		layer, ok := doc.Layers[key]
		if !ok {
			p.errorf("layer %s missing", key)
			continue
		}
		if _, ok := doc.COG.Dirs[key]; !ok {
			p.errorf("cog.dirs.%s missing", key)
		}
		if layer.Bounds != want {
			p.errorf("%s: bounds %v, want %v", key, layer.Bounds, want)
		}

		seen := make(map[string]bool, len(layer.Frames))
		for i, f := range layer.Frames {
			if _, err := domain.ParseDate(f.Date); err != nil {
				p.errorf("%s: frame %d has invalid date %q", key, i, f.Date)
				continue
			}
			if seen[f.Date] {
				p.errorf("%s: duplicate frame %s", key, f.Date)
			}
			seen[f.Date] = true
			if i > 0 && layer.Frames[i-1].Date >= f.Date {
				p.errorf("%s: frames out of order at %s", key, f.Date)
			}
		}
		var missing []string
		for _, d := range expected {
			if !seen[d.Format(domain.DateLayout)] {
				missing = append(missing, d.Format(domain.DateLayout))
			}
		}
		if len(missing) > 0 {
			p.warnf("%s: %d of %d dates have no frame (first: %s)", key, len(missing), len(expected), missing[0])
		}
	}
	return p
}

// ── Phase 2: tiles ──

func validateTiles(cfg *config.Config, units []unit, stats map[string][]float64) *phase {
	p := &phase{name: "GeoTIFF tiles"}
	fmt.Println("Phase 2: GeoTIFF tiles")
	for i := range units {
		validateTile(p, cfg, &units[i], stats)
	}
	return p
}

func validateTile(p *phase, cfg *config.Config, u *unit, stats map[string][]float64) {
	name := u.variable + " " + u.frame.Date
	r, err := geotiff.ReadFile(u.tilePath)
	if err != nil {
		p.errorf("%s: %v", name, err)
		return
	}
	u.tile = r

	if r.Width != cfg.Domain.Cols() || r.Height != cfg.Domain.Rows() {
		p.errorf("%s: %dx%d, want %dx%d", name, r.Width, r.Height, cfg.Domain.Cols(), cfg.Domain.Rows())
	}
	if r.EPSG != geotiff.EPSG {
		p.errorf("%s: EPSG %d, want %d", name, r.EPSG, geotiff.EPSG)
	}
	if r.NoData != geotiff.NoDataString {
		p.errorf("%s: nodata %q, want %q", name, r.NoData, geotiff.NoDataString)
	}
	if !transformEqual(r.Transform, cfg.Domain.Transform()) {
		p.errorf("%s: transform %v, want %v", name, r.Transform, cfg.Domain.Transform())
	}
	if n := len(geotiff.DefaultOptions().Overviews); len(r.Overviews) != n {
		p.errorf("%s: %d overviews, want %d", name, len(r.Overviews), n)
	}
	if d, _ := r.Meta("", "DATE"); d != u.frame.Date {
		p.errorf("%s: DATE metadata %q", name, d)
	}

	valid := 0
	for _, v := range r.Values {
		if domain.IsNoData(v) {
			continue
		}
		valid++
		stats[u.variable] = append(stats[u.variable], v)
	}
	switch {
	case u.frame.NoData && valid > 0:
		p.errorf("%s: flagged no_data but has %d valid cells", name, valid)
	case !u.frame.NoData && valid == 0:
		p.errorf("%s: no valid cells", name)
	}
}

func transformEqual(a, b domain.Transform) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// ── Phase 3: frames ──

func validateFrames(cfg *config.Config, baseDir string, units []unit) *phase {
	p := &phase{name: "PNG frames"}
	fmt.Println("Phase 3: PNG frames")

	for _, u := range units {
		name := u.variable + " " + u.frame.Date
		if want := filepath.ToSlash(mustRel(baseDir, u.imagePath)); u.frame.URL != want {
			p.errorf("%s: url %q, want %q", name, u.frame.URL, want)
		}
		img, err := readPNG(u.imagePath)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		b := img.Bounds()
		wantW, wantH := cfg.Domain.Cols()*cfg.PNGScale, cfg.Domain.Rows()*cfg.PNGScale
		if b.Dx() != wantW || b.Dy() != wantH {
			p.errorf("%s: %dx%d, want %dx%d", name, b.Dx(), b.Dy(), wantW, wantH)
			continue
		}
		if u.tile != nil {
			checkAlphaAgreement(p, name, u.tile, img, cfg.PNGScale)
		}
	}
	return p
}

// checkAlphaAgreement verifies that nodata cells of the tile are transparent
// in the frame. Cells within two cells of valid data are skipped, since
// upsampling blends across that distance. The converse does not hold: dry
// precipitation cells are valid but transparent.
func checkAlphaAgreement(p *phase, name string, tile *geotiff.Raster, img image.Image, scale int) {
	const margin = 2
	mismatches := 0
	for row := margin; row < tile.Height-margin; row++ {
		for col := margin; col < tile.Width-margin; col++ {
			if !nodataAround(tile, col, row, margin) {
				continue
			}
			_, _, _, a := img.At(col*scale+scale/2, row*scale+scale/2).RGBA()
			if a != 0 {
				mismatches++
			}
		}
	}
	if mismatches > 0 {
		p.errorf("%s: %d nodata cells are not transparent in the frame", name, mismatches)
	}
}

func nodataAround(tile *geotiff.Raster, col, row, margin int) bool {
	for dr := -margin; dr <= margin; dr++ {
		for dc := -margin; dc <= margin; dc++ {
			if !domain.IsNoData(tile.At(col+dc, row+dr)) {
				return false
			}
		}
	}
	return true
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func mustRel(base, path string) string {
	r, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return r
}

// ── Phase 4: budget ──

func validateBudget(units []unit) *phase {
	p := &phase{name: "Output budget"}
	fmt.Println("Phase 4: Output budget")

	var tileTotal, frameTotal int64
	for _, u := range units {
		if info, err := os.Stat(u.tilePath); err == nil {
			tileTotal += info.Size()
		}
		info, err := os.Stat(u.imagePath)
		if err != nil {
			continue
		}
		frameTotal += info.Size()
		if info.Size() > maxFrameBytes {
			p.warnf("%s %s: frame is %d KB", u.variable, u.frame.Date, info.Size()/1024)
		}
	}
	if total := tileTotal + frameTotal; total > maxTotalBytes {
		p.warnf("total output %.1f MB exceeds %.0f MB", float64(total)/1e6, float64(maxTotalBytes)/1e6)
	}
	fmt.Printf("  tiles %.1f MB, frames %.1f MB\n", float64(tileTotal)/1e6, float64(frameTotal)/1e6)
	return p
}
