// Package observe provides application-wide observability primitives for
// Inkbound: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Inkbound metrics.
const meterName = "github.com/inkbound-tabletop/inkbound-core"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// IngestDuration tracks end-to-end ingestion latency for one library
	// item, from file discovery through chunk indexing.
	IngestDuration metric.Float64Histogram

	// EmbeddingDuration tracks Embedding Service latency, including cache
	// misses that hit the configured embeddings provider.
	EmbeddingDuration metric.Float64Histogram

	// SearchDuration tracks hybrid search latency (lexical + vector +
	// fusion) as seen by the Storage Core.
	SearchDuration metric.Float64Histogram

	// LLMDuration tracks LLM Router inference latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ChunksIngested counts chunks written to the Storage Core. Use with
	// attribute: attribute.String("content_type", ...)
	ChunksIngested metric.Int64Counter

	// SearchRequests counts hybrid search calls by result outcome. Use
	// with attribute: attribute.String("status", ...)
	SearchRequests metric.Int64Counter

	// RouterFallbacks counts strategy fallbacks from a preferred provider
	// to the next candidate. Use with attributes:
	//   attribute.String("from_provider", ...), attribute.String("to_provider", ...)
	RouterFallbacks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// IngestErrors counts ingestion failures by stage. Use with
	// attribute: attribute.String("stage", ...)
	IngestErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedIngestJobs tracks library items waiting on or mid ingestion.
	QueuedIngestJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for retrieval/inference latencies: sub-100ms searches up through
// multi-second LLM calls and minutes-long ingestion jobs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IngestDuration, err = m.Float64Histogram("inkbound.ingest.duration",
		metric.WithDescription("Latency of one library item's ingestion, from file discovery through chunk indexing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("inkbound.embedding.duration",
		metric.WithDescription("Latency of Embedding Service calls, including provider misses."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("inkbound.search.duration",
		metric.WithDescription("Latency of hybrid search (lexical + vector + fusion)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("inkbound.llm.duration",
		metric.WithDescription("Latency of LLM Router inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("inkbound.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("inkbound.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("inkbound.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksIngested, err = m.Int64Counter("inkbound.chunks.ingested",
		metric.WithDescription("Total chunks written to the Storage Core by content type."),
	); err != nil {
		return nil, err
	}
	if met.SearchRequests, err = m.Int64Counter("inkbound.search.requests",
		metric.WithDescription("Total hybrid search calls by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.RouterFallbacks, err = m.Int64Counter("inkbound.router.fallbacks",
		metric.WithDescription("Total LLM Router strategy fallbacks by from/to provider."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("inkbound.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.IngestErrors, err = m.Int64Counter("inkbound.ingest.errors",
		metric.WithDescription("Total ingestion failures by pipeline stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("inkbound.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedIngestJobs, err = m.Int64UpDownCounter("inkbound.queued_ingest_jobs",
		metric.WithDescription("Number of library items waiting on or mid ingestion."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("inkbound.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordChunksIngested is a convenience method that records how many chunks
// of a given content type were just written to the Storage Core.
func (m *Metrics) RecordChunksIngested(ctx context.Context, contentType string, count int64) {
	m.ChunksIngested.Add(ctx, count,
		metric.WithAttributes(attribute.String("content_type", contentType)),
	)
}

// RecordSearchRequest is a convenience method that records a hybrid search
// call outcome.
func (m *Metrics) RecordSearchRequest(ctx context.Context, status string) {
	m.SearchRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRouterFallback is a convenience method that records a strategy
// fallback from one provider to the next candidate.
func (m *Metrics) RecordRouterFallback(ctx context.Context, fromProvider, toProvider string) {
	m.RouterFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from_provider", fromProvider),
			attribute.String("to_provider", toProvider),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordIngestError is a convenience method that records an ingestion
// failure at a given pipeline stage (e.g. "extract", "chunk", "embed",
// "store").
func (m *Metrics) RecordIngestError(ctx context.Context, stage string) {
	m.IngestErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
