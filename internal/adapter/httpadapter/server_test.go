package httpadapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/httpadapter"
	"github.com/lunasilvestre/cheias-pt/internal/pipeline"
)

type mockJob struct {
	err    error
	status pipeline.Status
}

func (m *mockJob) CheckReadiness(_ context.Context) error { return m.err }
func (m *mockJob) Status() pipeline.Status               { return m.status }

func newTestServer(job *mockJob) *httpadapter.Server {
	return httpadapter.NewServer(":0", job, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&mockJob{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(&mockJob{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(&mockJob{err: fmt.Errorf("pipeline has not completed any unit yet")})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "pipeline has not completed any unit yet", body["error"])
}

func TestStatusReportsProgress(t *testing.T) {
	srv := newTestServer(&mockJob{status: pipeline.Status{
		Running:      true,
		Variable:     "precipitation",
		UnitsDone:    40,
		UnitsFailed:  1,
		UnitsPlanned: 154,
	}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true,"variable":"precipitation","units_done":40,"units_failed":1,"units_planned":154}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockJob{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
