// Package health serves the liveness and readiness probes of the tile server.
//
//   - /healthz always answers 200 while the process can serve HTTP.
//   - /readyz runs every registered [Checker] in parallel. A failing
//     required check turns the answer into 503; a failing optional check
//     only marks the response "degraded".
//
// Bodies are JSON: {"status": "ok"|"degraded"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sadaksathi/internal/resilience"
	"github.com/MrWong99/sadaksathi/pkg/tilestore"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Checker is a named readiness probe.
type Checker struct {
	// Name keys the check in the JSON response ("tilestore", "tiles-upstream").
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional checks degrade the response instead of failing it. The
	// offline map keeps working without the tile upstream, for example.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New returns a handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz returns 200 unless a required check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs all checks concurrently, each under its own [checkTimeout].
func (h *Handler) Evaluate(ctx context.Context) result {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
		g        errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = statusOK
			case c.Optional:
				checks[c.Name] = statusDegraded + ": " + err.Error()
				degraded = true
			default:
				checks[c.Name] = statusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: statusOK, Checks: checks}
	switch {
	case failed:
		res.Status = statusFail
	case degraded:
		res.Status = statusDegraded
	}
	return res
}

// Names lists the registered checks in alphabetical order.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checkers))
	for _, c := range h.checkers {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// TileStore checks that the tile cache backend opens.
func TileStore(c *tilestore.Cache) Checker {
	return Checker{
		Name: "tilestore",
		Check: func(ctx context.Context) error {
			_, err := c.Backend(ctx)
			return err
		},
	}
}

// ErrBreakerOpen reports a tripped circuit breaker.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker reports an optional check that fails while cb is open.
func Breaker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return ErrBreakerOpen
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
