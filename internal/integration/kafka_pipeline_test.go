//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/kafka"
	"github.com/lunasilvestre/cheias-pt/internal/adapter/pointcache"
	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/geotiff"
	"github.com/lunasilvestre/cheias-pt/internal/interp"
	"github.com/lunasilvestre/cheias-pt/internal/observability"
	"github.com/lunasilvestre/cheias-pt/internal/pipeline"
	"github.com/lunasilvestre/cheias-pt/internal/render"
)

const testArtifactTopic = "test-raster-artifacts"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("raster-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

type receivedArtifact struct {
	Artifact domain.Artifact
	Key      string
	Headers  map[string]string
}

func readArtifact(ctx context.Context, t *testing.T, consumer *kafkago.Reader) receivedArtifact {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from artifact topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var a domain.Artifact
	require.NoError(t, json.Unmarshal(msg.Value, &a), "unmarshal artifact message")
	return receivedArtifact{Artifact: a, Key: string(msg.Key), Headers: headers}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testArtifactTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaWriter_RoundTrip verifies an artifact survives the trip through Kafka.
func TestKafkaWriter_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testArtifactTopic)

	writer := kafka.NewWriter([]string{broker}, testArtifactTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	a := domain.Artifact{
		Variable:   domain.SoilMoisture,
		Date:       "2026-01-28",
		TilePath:   "data/cog/soil-moisture/2026-01-28.tif",
		ImagePath:  "data/raster-frames/soil-moisture/2026-01-28.png",
		Strategy:   "cubic",
		ValidCells: 1234,
		ProducedAt: time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, writer.PublishArtifacts(ctx, []domain.Artifact{a}))

	got := readArtifact(ctx, t, newConsumer(t, broker))
	assert.Equal(t, "soil-moisture/2026-01-28", got.Key)
	assert.Equal(t, domain.SoilMoisture, got.Headers["variable"])
	assert.Equal(t, "2026-02-16T09:00:00Z", got.Headers["produced_at"])
	assert.Equal(t, a, got.Artifact)
}

// TestPipelineEndToEnd runs the full pipeline from a point cache on disk to
// tiles, frames, and Kafka notifications.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testArtifactTopic)

	dir := t.TempDir()
	grid := domain.Domain{West: -9, South: 39, East: -8, North: 40, PixelSize: 0.05}
	region, err := boundary.ParseGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[-9.2,38.8],[-7.8,38.8],[-7.8,40.2],[-9.2,40.2],[-9.2,38.8]]]}`))
	require.NoError(t, err)
	poly, err := boundary.NewPolygon(region)
	require.NoError(t, err)
	points := boundary.SamplePoints(grid, 0.1, poly)
	require.NotEmpty(t, points)

	dates := domain.DateRange(time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC))
	store := pointcache.New(dir+"/cache", points, discardLogger())
	v, err := domain.LookupVariable(domain.Precipitation)
	require.NoError(t, err)
	for _, p := range points {
		rec := pointcache.Record{Lat: p.Lat, Lon: p.Lon}
		for i, d := range dates {
			val := float64(i+1) * (10 + 5*(p.Lon+9) + 3*(p.Lat-39))
			rec.Dates = append(rec.Dates, d.Format(domain.DateLayout))
			rec.Values = append(rec.Values, &val)
		}
		require.NoError(t, store.Write(v, rec))
	}

	ip, err := interp.New(grid, boundary.Build(poly, grid.CellLons(), grid.CellLats()))
	require.NoError(t, err)
	encoder, err := geotiff.NewEncoder(geotiff.DefaultOptions())
	require.NoError(t, err)

	writer := kafka.NewWriter([]string{broker}, testArtifactTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(store, ip, encoder, render.New(), writer, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.Options{
			Dates:     dates,
			COGDir:    dir + "/cog",
			FramesDir: dir + "/frames",
			Workers:   2,
		})
	summary, err := p.Run(ctx, []domain.Variable{v})
	require.NoError(t, err)
	require.Len(t, summary.Variables[0].Artifacts, len(dates))

	consumer := newConsumer(t, broker)
	for i, d := range dates {
		got := readArtifact(ctx, t, consumer)
		assert.Equal(t, "precipitation/"+d.Format(domain.DateLayout), got.Key)
		assert.Equal(t, summary.Variables[0].Artifacts[i], got.Artifact)

		raster, err := geotiff.ReadFile(got.Artifact.TilePath)
		require.NoError(t, err)
		assert.Equal(t, grid.Cols(), raster.Width)
		assert.Equal(t, grid.Rows(), raster.Height)

		info, err := os.Stat(got.Artifact.ImagePath)
		require.NoError(t, err)
		assert.Equal(t, got.Artifact.ImageBytes, info.Size())
	}
}
