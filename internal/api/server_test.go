package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/metrics"
	"github.com/rendercrawl/rendercrawl/internal/supervisor"
)

type stubSource struct {
	snap supervisor.Snapshot
}

func (s stubSource) Stats() supervisor.Snapshot { return s.snap }

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := NewServer(0, stubSource{}, zap.NewNop())
	rec := serve(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusReportsSnapshot(t *testing.T) {
	srv := NewServer(0, stubSource{snap: supervisor.Snapshot{
		Pending:      7,
		InFlight:     2,
		Completed:    41,
		Succeeded:    38,
		TimedOut:     1,
		Failed:       2,
		HealthySlots: 4,
	}}, zap.NewNop())

	rec := serve(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got supervisor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 7, got.Pending)
	require.Equal(t, 38, got.Succeeded)
	require.Equal(t, 4, got.HealthySlots)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	metrics.Init()
	srv := NewServer(0, stubSource{}, zap.NewNop())
	rec := serve(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
