// Package offline makes map regions available without a network connection.
//
// [Manager] downloads every tile of a region into the tile store, or removes
// them again, and keeps the region's status record current:
//
//	none --download--> downloading --(all tiles stored)--> downloaded
//	downloading --(any fetch or store failure)--> none
//	downloaded --delete--> none
//
// A failed download rolls the status back to none but leaves tiles that were
// already written in the store. A delete is best-effort and always ends in
// none so the region can be downloaded again.
package offline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/regionstatus"
	"github.com/MrWong99/sadaksathi/pkg/tile"
	"github.com/MrWong99/sadaksathi/pkg/tilestore"
)

var (
	// ErrRegionBusy is returned when a download or delete is already running
	// for the region.
	ErrRegionBusy = errors.New("offline: region operation already in progress")

	// ErrUnknownRegion is returned by the ID-based helpers for an id that is
	// not in the catalog.
	ErrUnknownRegion = errors.New("offline: unknown region")

	errIncomplete = errors.New("offline: download stopped before all tiles were stored")
)

// Manager orchestrates region downloads and deletes.
type Manager struct {
	store       tilestore.Store
	tracker     *regionstatus.Tracker
	fetcher     Fetcher
	catalog     *tile.Catalog
	source      tile.Source
	concurrency int
	metrics     *observe.Metrics

	mu   sync.Mutex
	busy map[string]struct{}
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSource sets the tile server. Default: [tile.OpenStreetMap].
func WithSource(s tile.Source) Option {
	return func(m *Manager) { m.source = s }
}

// WithConcurrency sets how many tiles are fetched at once. 1 (the default)
// processes tiles strictly in order.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithCatalog sets the regions known to the ID-based helpers. Default:
// [tile.NepalRegions].
func WithCatalog(c *tile.Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// New returns a Manager.
func New(store tilestore.Store, tracker *regionstatus.Tracker, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		tracker:     tracker,
		fetcher:     fetcher,
		source:      tile.OpenStreetMap,
		concurrency: 1,
		busy:        make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.catalog == nil {
		m.catalog = tile.NewCatalog(tile.NepalRegions)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Regions returns the catalog in order.
func (m *Manager) Regions() []tile.Region { return m.catalog.All() }

// Region looks up a catalog region.
func (m *Manager) Region(id string) (tile.Region, error) {
	r, ok := m.catalog.Lookup(id)
	if !ok {
		return tile.Region{}, fmt.Errorf("%w: %q", ErrUnknownRegion, id)
	}
	return r, nil
}

// Source returns the tile server the manager downloads from.
func (m *Manager) Source() tile.Source { return m.source }

// Statuses returns the current status record.
func (m *Manager) Statuses(ctx context.Context) map[string]regionstatus.Entry {
	return m.tracker.All(ctx)
}

// Subscribe registers fn for status changes. See [regionstatus.Tracker.Subscribe].
func (m *Manager) Subscribe(fn func(map[string]regionstatus.Entry)) (unsubscribe func()) {
	return m.tracker.Subscribe(fn)
}

// GetTile returns the cached payload for url, if any. Storage faults read as
// a miss.
func (m *Manager) GetTile(ctx context.Context, url string) (string, bool) {
	payload, ok := m.store.Get(ctx, url)
	m.metrics.RecordTileCache(ctx, ok)
	return payload, ok
}

// Download fetches and stores every tile of region. onProgress, if non-nil,
// receives a non-decreasing sequence of percentages that starts at 0 and
// ends at 100 on success. Any fetch or store failure aborts the download,
// sets the region back to none and is returned.
func (m *Manager) Download(ctx context.Context, region tile.Region, onProgress func(int)) (err error) {
	if err := m.acquire(region.ID); err != nil {
		return err
	}
	defer m.release(region.ID)

	ctx, span := observe.StartSpan(ctx, "offline.Download", trace.WithAttributes(
		attribute.String("region", region.ID),
	))
	start := time.Now()
	m.metrics.ActiveDownloads.Add(ctx, 1)
	defer func() {
		m.metrics.ActiveDownloads.Add(ctx, -1)
		m.metrics.RecordRegionOperation(ctx, "download", err)
		if err == nil {
			m.metrics.RegionDownloadDuration.Record(ctx, time.Since(start).Seconds())
		}
		observe.EndSpan(span, err)
	}()

	// Status bookkeeping must survive cancellation of the caller's context.
	bctx := context.WithoutCancel(ctx)
	report := progressFunc(onProgress)

	m.tracker.Set(bctx, region.ID, regionstatus.Downloading, regionstatus.Progress(0))
	report(0)

	urls := m.source.URLs(region)
	if len(urls) == 0 {
		m.tracker.Set(bctx, region.ID, regionstatus.Downloaded, regionstatus.Progress(100))
		report(100)
		return nil
	}

	log := observe.Logger(ctx)
	log.Info("offline: download started", "region", region.ID, "tiles", len(urls), "concurrency", m.concurrency)

	var (
		mu   sync.Mutex
		done int
		last int
	)
	tileDone := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		p := int(math.Round(float64(done) / float64(len(urls)) * 100))
		if p < last {
			p = last
		}
		last = p
		m.tracker.Set(bctx, region.ID, regionstatus.Downloading, regionstatus.Progress(p))
		report(p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := m.fetchAndStore(gctx, u); err != nil {
				return err
			}
			tileDone()
			return nil
		})
	}
	err = g.Wait()
	if err == nil && done < len(urls) {
		// The loop stopped scheduling tiles without a failing tile.
		err = cmp.Or(ctx.Err(), errIncomplete)
	}
	if err != nil {
		m.tracker.Set(bctx, region.ID, regionstatus.None, nil)
		log.Error("offline: download failed, status rolled back", "region", region.ID, "stored", done, "tiles", len(urls), "err", err)
		return fmt.Errorf("offline: download %s: %w", region.ID, err)
	}

	m.tracker.Set(bctx, region.ID, regionstatus.Downloaded, regionstatus.Progress(100))
	report(100)
	log.Info("offline: download finished", "region", region.ID, "tiles", len(urls), "elapsed", time.Since(start))
	return nil
}

func (m *Manager) fetchAndStore(ctx context.Context, url string) error {
	data, ct, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, url, EncodeDataURL(data, ct))
}

// Delete removes every tile of region from the store. Individual delete
// failures are logged and skipped; onProgress counts attempts. The region
// always ends in none, also when ctx is already cancelled on entry. The only
// errors returned are [ErrRegionBusy] and that cancellation.
func (m *Manager) Delete(ctx context.Context, region tile.Region, onProgress func(int)) (err error) {
	if err := m.acquire(region.ID); err != nil {
		return err
	}
	defer m.release(region.ID)

	if err := ctx.Err(); err != nil {
		// Nothing was removed, but the region must stay retryable.
		m.tracker.Set(context.WithoutCancel(ctx), region.ID, regionstatus.None, nil)
		return err
	}

	ctx, span := observe.StartSpan(ctx, "offline.Delete", trace.WithAttributes(
		attribute.String("region", region.ID),
	))
	var failures []error
	defer func() {
		m.metrics.RecordRegionOperation(ctx, "delete", errors.Join(failures...))
		observe.EndSpan(span, errors.Join(failures...))
	}()

	bctx := context.WithoutCancel(ctx)
	report := progressFunc(onProgress)

	urls := m.source.URLs(region)
	if len(urls) == 0 {
		m.tracker.Set(bctx, region.ID, regionstatus.None, nil)
		report(100)
		return nil
	}

	for i, u := range urls {
		if err := m.store.Delete(bctx, u); err != nil {
			failures = append(failures, err)
		}
		report(int(math.Round(float64(i+1) / float64(len(urls)) * 100)))
	}
	m.tracker.Set(bctx, region.ID, regionstatus.None, nil)

	if len(failures) > 0 {
		slog.Warn("offline: delete finished with failures", "region", region.ID, "failed", len(failures), "tiles", len(urls), "first_err", failures[0])
	} else {
		slog.Info("offline: delete finished", "region", region.ID, "tiles", len(urls))
	}
	return nil
}

// DownloadByID is [Manager.Download] for a catalog region id.
func (m *Manager) DownloadByID(ctx context.Context, id string, onProgress func(int)) error {
	r, err := m.Region(id)
	if err != nil {
		return err
	}
	return m.Download(ctx, r, onProgress)
}

// DeleteByID is [Manager.Delete] for a catalog region id.
func (m *Manager) DeleteByID(ctx context.Context, id string, onProgress func(int)) error {
	r, err := m.Region(id)
	if err != nil {
		return err
	}
	return m.Delete(ctx, r, onProgress)
}

// Busy reports whether an operation is running for region id.
func (m *Manager) Busy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.busy[id]
	return ok
}

func (m *Manager) acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.busy[id]; ok {
		return fmt.Errorf("%w: %s", ErrRegionBusy, id)
	}
	m.busy[id] = struct{}{}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

func progressFunc(fn func(int)) func(int) {
	if fn == nil {
		return func(int) {}
	}
	return fn
}
