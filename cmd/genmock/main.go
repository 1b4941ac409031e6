// Command genmock writes a deterministic synthetic point cache for the
// configured domain, boundary, and date range, so the raster job can run
// without network access. Soil moisture is a smooth field drifting wetter
// over time; precipitation is a sequence of storm pulses crossing the domain
// with dry cells between them. A small share of values is null.
//
// Usage:
//
//	BOUNDARY_PATH=assets/districts.geojson go run ./cmd/genmock -out data/cache
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/pointcache"
	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/config"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "cache directory (default: CACHE_DIR)")
	seed := flag.Uint64("seed", 20260128, "seed for the null pattern and noise")
	nullRate := flag.Float64("null-rate", 0.02, "share of values written as null")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *out == "" {
		*out = cfg.CacheDir
	}
	if *nullRate < 0 || *nullRate >= 1 {
		return fmt.Errorf("-null-rate must be in [0, 1)")
	}

	region, err := boundary.Load(cfg.BoundaryPath)
	if err != nil {
		return fmt.Errorf("load boundary: %w", err)
	}
	points := boundary.SamplePoints(cfg.Domain, cfg.SampleSpacing, region.Buffered(cfg.BoundaryBuffer))
	dates := cfg.Dates()
	store := pointcache.New(*out, points, slog.Default())

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	gen := generator{domain: cfg.Domain, days: len(dates)}

	for _, id := range cfg.Variables {
		v, err := domain.LookupVariable(id)
		if err != nil {
			return err
		}
		for _, p := range points {
			rec := pointcache.Record{Lat: p.Lat, Lon: p.Lon}
			for day, date := range dates {
				rec.Dates = append(rec.Dates, date.Format(domain.DateLayout))
				if rng.Float64() < *nullRate {
					rec.Values = append(rec.Values, nil)
					continue
				}
				val := gen.value(v, p, day, rng.NormFloat64())
				rec.Values = append(rec.Values, &val)
			}
			if err := store.Write(v, rec); err != nil {
				return fmt.Errorf("write %s: %w", id, err)
			}
		}
		log.Printf("%s: %d points x %d dates", id, len(points), len(dates))
	}
	log.Printf("cache written to %s", *out)
	return nil
}

type generator struct {
	domain domain.Domain
	days   int
}

// value returns the synthetic value of v at p on day, given one standard
// normal draw for noise.
func (g generator) value(v domain.Variable, p boundary.Point, day int, noise float64) float64 {
	// Position in the domain, 0..1 on both axes.
	x := (p.Lon - g.domain.West) / (g.domain.East - g.domain.West)
	y := (p.Lat - g.domain.South) / (g.domain.North - g.domain.South)
	t := float64(day) / math.Max(1, float64(g.days-1))

	switch v.Aggregation {
	case domain.HourlyMean:
		// Wetter to the north-west, wetting up over the period.
		base := 0.18 + 0.12*(1-x)*y + 0.1*t
		wave := 0.03 * math.Sin(2*math.Pi*(2*x+y)) * math.Cos(math.Pi*t)
		return round(math.Max(0, base+wave+0.005*noise), 4)
	default:
		// A storm band every five days, sweeping south to north.
		phase := math.Mod(float64(day), 5) / 5
		dist := y - phase
		intensity := 45 * math.Exp(-dist*dist/0.02) * (0.6 + 0.4*(1-x))
		val := intensity + 1.5*noise
		if val < 0.1 {
			return 0
		}
		return round(val, 1)
	}
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
