// Package observe provides application-wide observability primitives for
// Sadak Sathi: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/sadaksathi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TileFetchDuration tracks network tile fetch latency.
	TileFetchDuration metric.Float64Histogram

	// RegionDownloadDuration tracks the wall time of a whole region download.
	RegionDownloadDuration metric.Float64Histogram

	// AssistantDuration tracks conversational assistant round trips.
	AssistantDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// TilesFetched counts tile fetches. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TilesFetched metric.Int64Counter

	// TileCacheLookups counts cache-first tile reads. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	TileCacheLookups metric.Int64Counter

	// RegionOperations counts region downloads and deletes. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	RegionOperations metric.Int64Counter

	// VoiceRestarts counts recognition session starts by the voice loop. Use
	// with attribute:
	//   attribute.String("mode", "wake-word"|"command")
	VoiceRestarts metric.Int64Counter

	// VoiceErrors counts recognition errors. Use with attribute:
	//   attribute.String("kind", ...)
	VoiceErrors metric.Int64Counter

	// VoiceCommands counts routed utterances. Use with attribute:
	//   attribute.String("intent", ...)
	VoiceCommands metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveDownloads tracks region downloads in flight.
	ActiveDownloads metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// downloadBuckets covers region downloads, which run from seconds to hours.
var downloadBuckets = []float64{
	1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TileFetchDuration, err = m.Float64Histogram("sadaksathi.tile.fetch.duration",
		metric.WithDescription("Latency of network tile fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RegionDownloadDuration, err = m.Float64Histogram("sadaksathi.region.download.duration",
		metric.WithDescription("Wall time of region downloads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(downloadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("sadaksathi.assistant.duration",
		metric.WithDescription("Latency of assistant replies."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("sadaksathi.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TilesFetched, err = m.Int64Counter("sadaksathi.tiles.fetched",
		metric.WithDescription("Total tile fetches by status."),
	); err != nil {
		return nil, err
	}
	if met.TileCacheLookups, err = m.Int64Counter("sadaksathi.tile.cache.lookups",
		metric.WithDescription("Total tile cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.RegionOperations, err = m.Int64Counter("sadaksathi.region.operations",
		metric.WithDescription("Total region downloads and deletes by status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceRestarts, err = m.Int64Counter("sadaksathi.voice.starts",
		metric.WithDescription("Total recognition session starts by mode."),
	); err != nil {
		return nil, err
	}
	if met.VoiceErrors, err = m.Int64Counter("sadaksathi.voice.errors",
		metric.WithDescription("Total recognition errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCommands, err = m.Int64Counter("sadaksathi.voice.commands",
		metric.WithDescription("Total routed voice commands by intent."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("sadaksathi.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDownloads, err = m.Int64UpDownCounter("sadaksathi.active_downloads",
		metric.WithDescription("Number of region downloads in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sadaksathi.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTileFetch records one network tile fetch.
func (m *Metrics) RecordTileFetch(ctx context.Context, seconds float64, err error) {
	m.TileFetchDuration.Record(ctx, seconds)
	m.TilesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusOf(err))))
}

// RecordTileCache records a cache-first tile lookup.
func (m *Metrics) RecordTileCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TileCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRegionOperation records a finished region download or delete.
func (m *Metrics) RecordRegionOperation(ctx context.Context, op string, err error) {
	m.RegionOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", statusOf(err)),
		),
	)
}

// RecordVoiceStart records a recognition session start in mode.
func (m *Metrics) RecordVoiceStart(ctx context.Context, mode string) {
	m.VoiceRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordVoiceError records a recognition error of the given kind.
func (m *Metrics) RecordVoiceError(ctx context.Context, kind string) {
	m.VoiceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordVoiceCommand records a routed utterance.
func (m *Metrics) RecordVoiceCommand(ctx context.Context, intent string) {
	m.VoiceCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
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

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
