package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// httpFixture wires a middleware with a manual metric reader, an in-memory
// span exporter and a debug-level log buffer.
type httpFixture struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prevTP) })

	var logs bytes.Buffer
	prevLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prevLog) })

	return &httpFixture{metrics: m, reader: reader, spans: exp, logs: &logs}
}

// tileLabel mirrors the route templates the tile server registers.
func tileLabel(r *http.Request) string {
	switch p := r.URL.Path; {
	case strings.HasPrefix(p, "/tiles/"):
		return "/tiles/{z}/{x}/{y}.png"
	case strings.HasPrefix(p, "/regions/") && strings.HasSuffix(p, "/download"):
		return "/regions/{id}/download"
	default:
		return p
	}
}

func isTile(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, "/tiles/") }

// handlerWithStatus answers every request with status.
func handlerWithStatus(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func (f *httpFixture) serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	Middleware(f.metrics, WithRouteLabel(tileLabel), WithQuietRequests(isTile))(h).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const upstreamTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name   string
		header http.Header
		want   string // empty means any freshly generated id
	}{
		{name: "new trace for driver request"},
		{
			name:   "continues client trace",
			header: http.Header{"Traceparent": {"00-" + upstreamTrace + "-00f067aa0ba902b7-01"}},
			want:   upstreamTrace,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(t)
			var seen string
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
				w.WriteHeader(http.StatusNoContent)
			})

			rec := f.serve(h, http.MethodPut, "/location", tt.header)

			if len(seen) != 32 {
				t.Fatalf("correlation id = %q, want 32 hex chars", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation id = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_TileRoutesShareOneLabel(t *testing.T) {
	f := newHTTPFixture(t)
	h := handlerWithStatus(http.StatusOK)

	for _, p := range []string{"/tiles/7/94/53.png", "/tiles/7/95/53.png", "/tiles/8/188/107.png"} {
		f.serve(h, http.MethodGet, p, nil)
	}
	f.serve(h, http.MethodPost, "/regions/bagmati/download", nil)

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "sadaksathi.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		counts[method.AsString()+" "+path.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /tiles/{z}/{x}/{y}.png":    3,
		"POST /regions/{id}/download": 1,
	}
	if len(counts) != len(want) {
		t.Fatalf("label sets = %v, want %v", counts, want)
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("samples for %q = %d, want %d", k, counts[k], n)
		}
	}

	var names []string
	for _, s := range f.spans.GetSpans() {
		names = append(names, s.Name)
	}
	wantNames := []string{
		"HTTP GET /tiles/{z}/{x}/{y}.png",
		"HTTP GET /tiles/{z}/{x}/{y}.png",
		"HTTP GET /tiles/{z}/{x}/{y}.png",
		"HTTP POST /regions/{id}/download",
	}
	if strings.Join(names, "|") != strings.Join(wantNames, "|") {
		t.Errorf("span names = %v, want %v", names, wantNames)
	}
}

func TestMiddleware_StatusAndLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		status    int
		wantLevel string
	}{
		{"cached tile is quiet", http.MethodGet, "/tiles/7/94/53.png", http.StatusOK, "DEBUG"},
		{"missing tile offline is quiet", http.MethodGet, "/tiles/7/94/53.png", http.StatusNotFound, "DEBUG"},
		{"upstream failure is loud", http.MethodGet, "/tiles/7/94/53.png", http.StatusBadGateway, "WARN"},
		{"voice state", http.MethodGet, "/voice", http.StatusOK, "INFO"},
		{"busy region", http.MethodPost, "/regions/bagmati/download", http.StatusConflict, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(t)

			rec := f.serve(handlerWithStatus(tt.status), tt.method, tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("response status = %d, want %d", rec.Code, tt.status)
			}

			logged := f.logs.String()
			if !strings.Contains(logged, "level="+tt.wantLevel+` msg="request completed"`) {
				t.Errorf("log = %q, want level %s", logged, tt.wantLevel)
			}
			if !strings.Contains(logged, "path="+tt.path) {
				t.Errorf("log = %q, want the raw path %s", logged, tt.path)
			}

			spans := f.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status code = %d, want %d", code, tt.status)
			}
		})
	}
}

func TestMiddleware_DefaultLabelIsPath(t *testing.T) {
	f := newHTTPFixture(t)
	rec := httptest.NewRecorder()
	Middleware(f.metrics)(handlerWithStatus(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	spans := f.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("spans = %v, want one named after the path", spans)
	}
	if !strings.Contains(f.logs.String(), "level=INFO") {
		t.Errorf("log = %q, want info without a quiet predicate", f.logs.String())
	}
}
