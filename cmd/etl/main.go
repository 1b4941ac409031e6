package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/httpadapter"
	kafkaadapter "github.com/lunasilvestre/cheias-pt/internal/adapter/kafka"
	"github.com/lunasilvestre/cheias-pt/internal/adapter/manifest"
	"github.com/lunasilvestre/cheias-pt/internal/adapter/openmeteo"
	"github.com/lunasilvestre/cheias-pt/internal/adapter/pointcache"
	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/config"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/geotiff"
	"github.com/lunasilvestre/cheias-pt/internal/interp"
	"github.com/lunasilvestre/cheias-pt/internal/observability"
	"github.com/lunasilvestre/cheias-pt/internal/pipeline"
	"github.com/lunasilvestre/cheias-pt/internal/render"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing or unreadable boundary aborts before any output is written.
	region, err := boundary.Load(cfg.BoundaryPath)
	if err != nil {
		logger.Error("failed to load boundary", "path", cfg.BoundaryPath, "error", err)
		return 1
	}
	points := boundary.SamplePoints(cfg.Domain, cfg.SampleSpacing, region.Buffered(cfg.BoundaryBuffer))
	logger.Info("boundary loaded",
		"path", cfg.BoundaryPath,
		"polygons", region.NumPolygons(),
		"sample_points", len(points),
		"buffer", cfg.BoundaryBuffer,
	)

	variables := make([]domain.Variable, 0, len(cfg.Variables))
	for _, id := range cfg.Variables {
		v, err := domain.LookupVariable(id)
		if err != nil {
			logger.Error("unknown variable", "variable", id, "error", err)
			return 1
		}
		variables = append(variables, v)
	}

	store := pointcache.New(cfg.CacheDir, points, logger)
	if cfg.FetchEnabled {
		client := openmeteo.NewClient(cfg.OpenMeteoURL, cfg.OpenMeteoTimeout, metrics, logger)
		fetcher := openmeteo.NewFetcher(client, store, metrics, logger, cfg.FetchInterval)
		if _, err := fetcher.Fetch(ctx, variables, cfg.StartDate, cfg.EndDate); err != nil {
			logger.Error("fetch failed", "error", err)
			return 1
		}
	} else {
		logger.Info("open-meteo fetch disabled, using cache", "cache_dir", cfg.CacheDir)
	}

	mask := boundary.Build(region, cfg.Domain.CellLons(), cfg.Domain.CellLats())
	ip, err := interp.New(cfg.Domain, mask, interp.WithThreshold(cfg.FallbackThreshold))
	if err != nil {
		logger.Error("invalid grid", "error", err)
		return 1
	}
	logger.Info("mask built", "cols", mask.Cols, "rows", mask.Rows, "inside", mask.Count())

	encoder, err := geotiff.NewEncoder(geotiff.DefaultOptions())
	if err != nil {
		logger.Error("invalid encoder options", "error", err)
		return 1
	}
	rasterizer := render.Rasterizer{Scale: cfg.PNGScale, QuantStep: cfg.QuantStep}

	var publisher pipeline.ArtifactPublisher
	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaArtifactTopic, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = writer
		logger.Info("artifact notifications enabled", "topic", cfg.KafkaArtifactTopic)
	}

	p := pipeline.New(store, ip, encoder, rasterizer, publisher, logger, metrics, pipeline.Options{
		Dates:     cfg.Dates(),
		COGDir:    cfg.COGDir,
		FramesDir: cfg.FramesDir,
		Workers:   cfg.Workers,
		GapPolicy: cfg.GapPolicy,
	})

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	code := 0
	summary, runErr := p.Run(ctx, variables)
	if runErr != nil {
		logger.Error("pipeline error", "error", runErr)
		code = 1
	}

	if summary != nil && ctx.Err() == nil {
		var artifacts []domain.Artifact
		for _, res := range summary.Variables {
			artifacts = append(artifacts, res.Artifacts...)
		}
		b := manifest.Builder{
			BaseDir: filepath.Dir(cfg.FramesDir),
			COGDir:  cfg.COGDir,
			Bounds:  cfg.Domain.Bounds(),
		}
		doc, err := b.Build(cfg.Variables, artifacts)
		if err == nil {
			err = manifest.WriteFile(cfg.ManifestPath, doc)
		}
		if err != nil {
			logger.Error("manifest error", "error", err)
			code = 1
		} else {
			logger.Info("manifest written", "path", cfg.ManifestPath, "frames", len(artifacts))
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	logger.Info("run complete", "exit_code", code)
	return code
}
