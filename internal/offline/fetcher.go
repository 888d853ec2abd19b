package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/resilience"
)

// maxTileBytes bounds a single tile response body.
const maxTileBytes = 4 << 20

// Fetcher retrieves a tile from the network.
type Fetcher interface {
	// Fetch returns the tile bytes and their media type.
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// StatusError is returned by [HTTPFetcher] for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("offline: fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// upstreamFault reports whether err says something about the tile server's
// health. Client-side misses (404 outside coverage) and caller cancellation
// do not.
func upstreamFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// HTTPFetcherConfig configures [NewHTTPFetcher].
type HTTPFetcherConfig struct {
	// UserAgent is sent with every request. Public OSM tile servers reject
	// requests without an identifying agent.
	UserAgent string

	// Timeout bounds one request. Default: 12s.
	Timeout time.Duration

	// MinInterval is the minimum spacing between requests. Zero disables
	// pacing.
	MinInterval time.Duration

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client

	Metrics *observe.Metrics
}

// HTTPFetcher fetches tiles over HTTP behind a circuit breaker and an
// optional rate limit.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns an HTTPFetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          32,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:      "tile-server",
			IsFailure: upstreamFault,
		}),
		metrics: m,
	}
}

// Breaker exposes the circuit breaker guarding the tile server.
func (f *HTTPFetcher) Breaker() *resilience.CircuitBreaker { return f.breaker }

// Fetch implements [Fetcher].
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("offline: fetch %s: %w", url, err)
	}

	start := time.Now()
	type result struct {
		data []byte
		ct   string
	}
	res, err := resilience.Call(f.breaker, func() (result, error) {
		data, ct, err := f.get(ctx, url)
		return result{data, ct}, err
	})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		f.metrics.RecordTileFetch(ctx, time.Since(start).Seconds(), err)
	}
	if err != nil {
		return nil, "", err
	}
	return res.data, res.ct, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("offline: fetch %s: %w", url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/png,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("offline: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		return nil, "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("offline: read %s: %w", url, err)
	}
	if len(data) > maxTileBytes {
		return nil, "", fmt.Errorf("offline: fetch %s: body exceeds %d bytes", url, maxTileBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
