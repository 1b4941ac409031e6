package openmeteo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/pointcache"
	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/observability"
)

// PointFetcher retrieves the daily records of several variables at a point.
type PointFetcher interface {
	FetchPoint(ctx context.Context, p boundary.Point, variables []domain.Variable, start, end time.Time) (map[string]pointcache.Record, error)
}

// FetchSummary counts the outcome of a Fetcher run.
type FetchSummary struct {
	Points  int
	Cached  int
	Fetched int
	Failed  int
}

// Fetcher fills the point cache, skipping points that already have a file for
// every variable. Requests are paced by interval.
type Fetcher struct {
	client   PointFetcher
	store    *pointcache.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	interval time.Duration
}

// NewFetcher creates a cache-filling decorator around client.
func NewFetcher(client PointFetcher, store *pointcache.Store, metrics *observability.Metrics, logger *slog.Logger, interval time.Duration) *Fetcher {
	return &Fetcher{client: client, store: store, metrics: metrics, logger: logger, interval: interval}
}

// Fetch requests every uncached point of the store over [start, end]. A point
// that fails after retries is logged and counted; the run continues. Only
// context cancellation and cache write errors are returned.
func (f *Fetcher) Fetch(ctx context.Context, variables []domain.Variable, start, end time.Time) (FetchSummary, error) {
	points := f.store.Points()
	sum := FetchSummary{Points: len(points)}

	var todo []boundary.Point
	for _, p := range points {
		if f.cached(variables, p) {
			sum.Cached++
			continue
		}
		todo = append(todo, p)
	}
	for _, v := range variables {
		f.metrics.FetchRequests.WithLabelValues(v.ID, "cached").Add(float64(sum.Cached))
	}
	f.logger.Info("fetch started", "points", len(points), "cached", sum.Cached, "to_fetch", len(todo))

	for i, p := range todo {
		if i == 0 || (i+1)%100 == 0 {
			f.logger.Info("fetch progress", "done", i, "total", len(todo))
		}

		records, err := f.client.FetchPoint(ctx, p, variables, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			for _, v := range variables {
				f.metrics.FetchRequests.WithLabelValues(v.ID, "error").Inc()
			}
			f.logger.Warn("fetch point failed", "lat", p.Lat, "lon", p.Lon, "error", err)
		} else {
			for _, v := range variables {
				if err := f.store.Write(v, records[v.ID]); err != nil {
					return sum, fmt.Errorf("cache %s: %w", v.ID, err)
				}
				f.metrics.FetchRequests.WithLabelValues(v.ID, "success").Inc()
			}
			sum.Fetched++
		}

		if !retry.SleepWithContext(ctx, f.interval) {
			return sum, ctx.Err()
		}
	}

	f.logger.Info("fetch complete", "fetched", sum.Fetched, "failed", sum.Failed, "cached", sum.Cached)
	return sum, nil
}

func (f *Fetcher) cached(variables []domain.Variable, p boundary.Point) bool {
	for _, v := range variables {
		if !f.store.Has(v, p) {
			return false
		}
	}
	return true
}
