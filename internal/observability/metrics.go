package observability

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing, so
// callers never need to guard.
type Metrics struct {
	StageJobsTotal      metric.Int64Counter
	StageErrorsTotal    metric.Int64Counter
	StageDuration       metric.Float64Histogram
	ApplyClaimsTotal    metric.Int64Counter
	ApplyWorkersActive  metric.Int64UpDownCounter
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on a private Prometheus registry and
// returns the handler serving it.
func NewMetrics() (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("applypilot")
	m := &Metrics{}

	if m.StageJobsTotal, err = meter.Int64Counter(
		"stage_jobs_total",
		metric.WithDescription("Jobs processed per stage by outcome"),
	); err != nil {
		return nil, nil, err
	}
	if m.StageErrorsTotal, err = meter.Int64Counter(
		"stage_errors_total",
		metric.WithDescription("Stage failures by error class"),
	); err != nil {
		return nil, nil, err
	}
	if m.StageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Time spent in one stage invocation for one job"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	); err != nil {
		return nil, nil, err
	}
	if m.ApplyClaimsTotal, err = meter.Int64Counter(
		"apply_claims_total",
		metric.WithDescription("Submission claim attempts by result"),
	); err != nil {
		return nil, nil, err
	}
	if m.ApplyWorkersActive, err = meter.Int64UpDownCounter(
		"apply_workers_active",
		metric.WithDescription("Submission workers currently running"),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Control API requests"),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Control API latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordStage records one job leaving a stage with outcome
// (succeeded, retried, errored, skipped).
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageJobsTotal.Add(ctx, 1, metric.WithAttributes(stageAttr(stage), outcomeAttr(outcome)))
	m.StageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(stageAttr(stage)))
}

// RecordStageError records a classified failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage, class string) {
	if m == nil {
		return
	}
	m.StageErrorsTotal.Add(ctx, 1, metric.WithAttributes(stageAttr(stage), classAttr(class)))
}

// RecordClaim records a claim attempt: won, lost or error.
func (m *Metrics) RecordClaim(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.ApplyClaimsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result)))
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ApplyWorkersActive.Add(ctx, 1)
}

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ApplyWorkersActive.Add(ctx, -1)
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
}
