package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposedOnHandler(t *testing.T) {
	ctx := context.Background()
	metrics, handler, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	metrics.RecordStage(ctx, "score", "succeeded", 2*time.Second)
	metrics.RecordStageError(ctx, "score", "transient")
	metrics.RecordClaim(ctx, "won")
	metrics.WorkerStarted(ctx)
	metrics.RecordHTTPRequest(ctx, "GET", "/api/status", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"stage_jobs_total", "stage_errors_total", "apply_claims_total", "apply_workers_active", "stage_duration_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordStage(ctx, "enrich", "errored", time.Second)
	m.RecordStageError(ctx, "enrich", "permanent")
	m.RecordClaim(ctx, "lost")
	m.WorkerStarted(ctx)
	m.WorkerStopped(ctx)
	m.RecordHTTPRequest(ctx, "POST", "/api/run", 500, time.Second)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/api/status", "/api/status"},
		{"/api/jobs/https%3A%2F%2Fx%2F1", "/api/jobs/{url}"},
		{"", "/"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
