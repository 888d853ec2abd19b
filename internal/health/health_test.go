package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/sadaksathi/internal/resilience"
	"github.com/MrWong99/sadaksathi/pkg/tilestore"
	"github.com/MrWong99/sadaksathi/pkg/tilestore/mock"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "tilestore", Check: failing("down")})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "tilestore", Check: ok},
				{Name: "prefs", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"tilestore": "ok", "prefs": "ok"},
		},
		{
			name: "required failure",
			checkers: []Checker{
				{Name: "tilestore", Check: failing("connection refused")},
				{Name: "prefs", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"tilestore": "fail: connection refused", "prefs": "ok"},
		},
		{
			name: "optional failure degrades",
			checkers: []Checker{
				{Name: "tilestore", Check: ok},
				{Name: "tiles-upstream", Check: failing("circuit breaker open"), Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"tilestore": "ok", "tiles-upstream": "degraded: circuit breaker open"},
		},
		{
			name: "required failure wins over degraded",
			checkers: []Checker{
				{Name: "tilestore", Check: failing("timeout")},
				{Name: "tiles-upstream", Check: failing("open"), Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"tilestore": "fail: timeout", "tiles-upstream": "degraded: open"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tc.checkers...), context.Background())
			if code != tc.wantCode {
				t.Errorf("code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	var running atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := readyz(t, h, ctx)
	if code != http.StatusOK {
		t.Errorf("code = %d, checks %v; sequential checks would deadlock here", code, body.Checks)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "tilestore"}, Checker{Name: "prefs"})
	got := h.Names()
	if len(got) != 2 || got[0] != "prefs" || got[1] != "tilestore" {
		t.Errorf("Names() = %v", got)
	}
}

// ─── Checkers ────────────────────────────────────────────────────────────────

func TestTileStore(t *testing.T) {
	t.Parallel()

	if err := TileStore(tilestore.NewCacheFor(mock.New())).Check(context.Background()); err != nil {
		t.Errorf("opened backend: %v", err)
	}

	broken := tilestore.NewCache(func(context.Context) (tilestore.Backend, error) {
		return nil, errors.New("disk full")
	})
	if err := TileStore(broken).Check(context.Background()); err == nil {
		t.Error("expected an error for a backend that does not open")
	}
}

func TestBreaker(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "tiles",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := Breaker("tiles-upstream", cb)
	if !c.Optional {
		t.Error("breaker checks should be optional")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("closed breaker: %v", err)
	}

	_ = cb.Execute(func() error { return errors.New("upstream down") })
	if err := c.Check(context.Background()); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("open breaker err = %v, want ErrBreakerOpen", err)
	}
}
