// Package incident submits driver incident reports to a webhook (typically a
// spreadsheet web app).
//
// Delivery is fire-and-forget: a report counts as submitted once the request
// went out without a transport error. The receiver's answer is logged but
// never read as an acknowledgement, matching webhooks that cannot return
// meaningful responses.
package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sadaksathi/internal/observe"
)

// ErrInvalidReport is wrapped by validation failures.
var ErrInvalidReport = errors.New("incident: invalid report")

// Translation keys for the submission outcome.
const (
	KeySubmitted   = "incident_submitted"
	KeySubmitError = "error_submit_incident"
)

// Report is what the driver files.
type Report struct {
	Latitude     float64
	Longitude    float64
	IncidentType string
	Description  string
	HasPhoto     bool
}

// Validate checks coordinates and type.
func (r Report) Validate() error {
	var errs []error
	if r.Latitude < -90 || r.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %.5f out of range", r.Latitude))
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %.5f out of range", r.Longitude))
	}
	if strings.TrimSpace(r.IncidentType) == "" {
		errs = append(errs, errors.New("incident type must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReport, errors.Join(errs...))
	}
	return nil
}

// payload is the JSON body posted to the webhook.
type payload struct {
	ID           string  `json:"id"`
	Timestamp    string  `json:"timestamp"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	IncidentType string  `json:"incidentType"`
	Description  string  `json:"description"`
	HasPhoto     bool    `json:"hasPhoto"`
}

// Result describes a submission.
type Result struct {
	// ID identifies the report in the webhook payload.
	ID string

	// Submitted is true once the report left the process (or was simulated).
	Submitted bool

	// Simulated is true when no webhook is configured.
	Simulated bool

	// Message is a human-readable note for logs.
	Message string
}

// Option is a functional option for configuring a [Submitter].
type Option func(*Submitter)

// WithHTTPClient replaces the HTTP client. Default: 15s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) { s.client = c }
}

// WithNow replaces the wall clock. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// Submitter posts reports to a webhook.
type Submitter struct {
	url     string
	client  *http.Client
	now     func() time.Time
	metrics *observe.Metrics
}

// New returns a submitter for webhookURL. An empty URL simulates success.
func New(webhookURL string, opts ...Option) *Submitter {
	s := &Submitter{
		url:    strings.TrimSpace(webhookURL),
		client: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Submit sends r. Validation and transport errors are returned; the result is
// then not submitted.
func (s *Submitter) Submit(ctx context.Context, r Report) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	id := uuid.NewString()

	if s.url == "" {
		slog.Warn("incident: no webhook configured, simulating submission", "id", id, "type", r.IncidentType)
		return Result{ID: id, Submitted: true, Simulated: true, Message: "submission skipped (no webhook configured)"}, nil
	}

	body, err := json.Marshal(payload{
		ID:           id,
		Timestamp:    s.now().UTC().Format(time.RFC3339Nano),
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		IncidentType: r.IncidentType,
		Description:  r.Description,
		HasPhoto:     r.HasPhoto,
	})
	if err != nil {
		return Result{}, fmt.Errorf("incident: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("incident: build request: %w", err)
	}
	// Spreadsheet web apps reject preflighted content types.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "webhook", "incident", "error")
		return Result{ID: id, Message: err.Error()}, fmt.Errorf("incident: submit: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	s.metrics.RecordProviderRequest(ctx, "webhook", "incident", "ok")

	if resp.StatusCode >= 400 {
		slog.Warn("incident: webhook answered with an error status", "id", id, "status", resp.StatusCode)
	}
	slog.Info("incident: report submitted", "id", id, "type", r.IncidentType)
	return Result{ID: id, Submitted: true}, nil
}
