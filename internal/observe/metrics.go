// Package observe provides OpenTelemetry metrics, tracing helpers and the
// HTTP middleware that ties them to structured logging.
//
// Metrics are recorded through the OTel Metrics API and exported through a
// Prometheus bridge set up by [InitProvider]. Tests should use [NewMetrics]
// with their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/pavelanni/interviewer"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT = "stt"
	KindLLM = "llm"
)

// Request outcomes used as the "status" attribute.
const (
	StatusOK       = "ok"
	StatusMock     = "mock"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// Metrics holds all metric instruments for the application.
type Metrics struct {
	// STTDuration tracks speech-to-text upstream latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks feedback completion latency.
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts upstream calls by kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream failures by kind and error class.
	ProviderErrors metric.Int64Counter

	// DegradedFeedback counts analysis responses replaced by degraded feedback.
	DegradedFeedback metric.Int64Counter

	// ActiveSessions tracks live websocket practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for upstream
// speech and completion calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("interviewer.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("interviewer.llm.duration",
		metric.WithDescription("Latency of feedback completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("interviewer.provider.requests",
		metric.WithDescription("Upstream requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("interviewer.provider.errors",
		metric.WithDescription("Upstream errors by kind and error class."),
	); err != nil {
		return nil, err
	}
	if met.DegradedFeedback, err = m.Int64Counter("interviewer.feedback.degraded",
		metric.WithDescription("Analysis responses replaced by degraded feedback."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("interviewer.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("interviewer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest increments the request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, kind, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("class", class),
		),
	)
}

// RecordDegraded increments the degraded feedback counter.
func (m *Metrics) RecordDegraded(ctx context.Context, class string) {
	m.DegradedFeedback.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
