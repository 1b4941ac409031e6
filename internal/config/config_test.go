package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.Domain{West: -9.6, South: 36.9, East: -6.1, North: 42.2, PixelSize: 0.02}, cfg.Domain)
	assert.Equal(t, 0.1, cfg.SampleSpacing)
	assert.Equal(t, "assets/districts.geojson", cfg.BoundaryPath)
	assert.Equal(t, 0.15, cfg.BoundaryBuffer)
	assert.Equal(t, []string{"soil-moisture", "precipitation"}, cfg.Variables)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), cfg.StartDate)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), cfg.EndDate)
	assert.Len(t, cfg.Dates(), 77)
	assert.Equal(t, "data/cache", cfg.CacheDir)
	assert.Equal(t, "data/cog", cfg.COGDir)
	assert.Equal(t, "data/raster-frames", cfg.FramesDir)
	assert.Equal(t, "data/frontend/raster-manifest.json", cfg.ManifestPath)
	assert.Equal(t, 4, cfg.PNGScale)
	assert.Equal(t, 4, cfg.QuantStep)
	assert.Equal(t, 0.3, cfg.FallbackThreshold)
	assert.Equal(t, domain.GapSkip, cfg.GapPolicy)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.False(t, cfg.FetchEnabled)
	assert.Equal(t, DefaultOpenMeteoURL, cfg.OpenMeteoURL)
	assert.Equal(t, 30*time.Second, cfg.OpenMeteoTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchInterval)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "raster-artifacts", cfg.KafkaArtifactTopic)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DOMAIN_BBOX", "-10, 36, -6, 43")
	t.Setenv("PIXEL_SIZE", "0.05")
	t.Setenv("SAMPLE_SPACING", "0.25")
	t.Setenv("BOUNDARY_PATH", "/data/pt.shp")
	t.Setenv("BOUNDARY_BUFFER", "0")
	t.Setenv("VARIABLES", "precipitation")
	t.Setenv("START_DATE", "2026-01-25")
	t.Setenv("END_DATE", "2026-01-31")
	t.Setenv("CACHE_DIR", "/cache")
	t.Setenv("COG_DIR", "/out/cog")
	t.Setenv("FRAMES_DIR", "/out/frames")
	t.Setenv("MANIFEST_PATH", "/out/manifest.json")
	t.Setenv("PNG_SCALE", "2")
	t.Setenv("QUANT_STEP", "1")
	t.Setenv("FALLBACK_THRESHOLD", "0.5")
	t.Setenv("GAP_POLICY", "nodata")
	t.Setenv("WORKERS", "3")
	t.Setenv("FETCH_ENABLED", "true")
	t.Setenv("OPEN_METEO_URL", "http://localhost:9999/v1/archive")
	t.Setenv("OPEN_METEO_TIMEOUT", "5s")
	t.Setenv("FETCH_INTERVAL", "0s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_ARTIFACT_TOPIC", "frames")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.Domain{West: -10, South: 36, East: -6, North: 43, PixelSize: 0.05}, cfg.Domain)
	assert.Equal(t, 0.25, cfg.SampleSpacing)
	assert.Equal(t, "/data/pt.shp", cfg.BoundaryPath)
	assert.Zero(t, cfg.BoundaryBuffer)
	assert.Equal(t, []string{"precipitation"}, cfg.Variables)
	assert.Len(t, cfg.Dates(), 7)
	assert.Equal(t, "/cache", cfg.CacheDir)
	assert.Equal(t, "/out/cog", cfg.COGDir)
	assert.Equal(t, "/out/frames", cfg.FramesDir)
	assert.Equal(t, "/out/manifest.json", cfg.ManifestPath)
	assert.Equal(t, 2, cfg.PNGScale)
	assert.Equal(t, 1, cfg.QuantStep)
	assert.Equal(t, 0.5, cfg.FallbackThreshold)
	assert.Equal(t, domain.GapNoData, cfg.GapPolicy)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.FetchEnabled)
	assert.Equal(t, "http://localhost:9999/v1/archive", cfg.OpenMeteoURL)
	assert.Equal(t, 5*time.Second, cfg.OpenMeteoTimeout)
	assert.Zero(t, cfg.FetchInterval)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "frames", cfg.KafkaArtifactTopic)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_DuplicateVariables(t *testing.T) {
	t.Setenv("VARIABLES", "precipitation,precipitation,soil-moisture")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"precipitation", "soil-moisture"}, cfg.Variables)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
		{"DOMAIN_BBOX", "1,2,3", "DOMAIN_BBOX"},
		{"DOMAIN_BBOX", "a,b,c,d", "DOMAIN_BBOX"},
		{"DOMAIN_BBOX", "0,0,-1,1", "DOMAIN_BBOX"},
		{"PIXEL_SIZE", "0", "PIXEL_SIZE"},
		{"SAMPLE_SPACING", "-0.1", "SAMPLE_SPACING"},
		{"BOUNDARY_BUFFER", "-1", "BOUNDARY_BUFFER"},
		{"FALLBACK_THRESHOLD", "1.5", "FALLBACK_THRESHOLD"},
		{"START_DATE", "01/12/2025", "START_DATE"},
		{"END_DATE", "2025-11-30", "END_DATE"},
		{"VARIABLES", "snow", "VARIABLES"},
		{"VARIABLES", " , ", "VARIABLES"},
		{"PNG_SCALE", "0", "PNG_SCALE"},
		{"QUANT_STEP", "256", "QUANT_STEP"},
		{"WORKERS", "many", "WORKERS"},
		{"GAP_POLICY", "fill", "GAP_POLICY"},
		{"OPEN_METEO_TIMEOUT", "soon", "OPEN_METEO_TIMEOUT"},
		{"FETCH_INTERVAL", "-1s", "FETCH_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
