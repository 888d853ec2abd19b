// Package app wires all Sadak Sathi subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the voice loop, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithTileBackend,
// WithPrefs, WithFetcher, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sadaksathi/internal/assistant"
	"github.com/MrWong99/sadaksathi/internal/config"
	"github.com/MrWong99/sadaksathi/internal/health"
	"github.com/MrWong99/sadaksathi/internal/i18n"
	"github.com/MrWong99/sadaksathi/internal/incident"
	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/offline"
	"github.com/MrWong99/sadaksathi/internal/prefs"
	"github.com/MrWong99/sadaksathi/internal/regionstatus"
	"github.com/MrWong99/sadaksathi/internal/speech"
	"github.com/MrWong99/sadaksathi/internal/storage/sqlite"
	"github.com/MrWong99/sadaksathi/internal/tileserver"
	"github.com/MrWong99/sadaksathi/internal/voice"
	"github.com/MrWong99/sadaksathi/internal/voicecmd"
	"github.com/MrWong99/sadaksathi/pkg/audio"
	"github.com/MrWong99/sadaksathi/pkg/provider/llm"
	"github.com/MrWong99/sadaksathi/pkg/provider/tts"
	"github.com/MrWong99/sadaksathi/pkg/recognizer"
	"github.com/MrWong99/sadaksathi/pkg/tilestore"
	"github.com/MrWong99/sadaksathi/pkg/tilestore/postgres"
)

// defaultIncidentTimeout bounds one webhook submission when the config leaves
// it unset.
const defaultIncidentTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Recognizer recognizer.Recognizer
	TTS        tts.Provider
	Player     audio.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	catalog    *i18n.Catalog
	metrics    *observe.Metrics
	metricsH   http.Handler
	prefs      prefs.Store
	backend    tilestore.Backend
	tiles      *tilestore.Cache
	tracker    *regionstatus.Tracker
	fetcher    offline.Fetcher
	upstream   *offline.HTTPFetcher
	regions    *offline.Manager
	tileAPI    *tileserver.Server
	health     *health.Handler
	incidents  *incident.Submitter
	speaker    voicecmd.Speaker
	assistant  *assistant.Assistant
	router     *voicecmd.Router
	settings   *voice.SettingsStore
	voice      *voice.Controller
	handler    http.Handler
	server     *http.Server
	cancelJobs context.CancelFunc

	// state is what the driver's client reports and what voice actions
	// leave behind.
	mu       sync.Mutex
	state    driveState
	statuses map[string]regionstatus.Entry

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// driveState is the live state of the current trip.
type driveState struct {
	location   *assistant.Location
	weather    string
	language   string
	pavement   bool
	lastSearch string
	lastNotice string
	lastReport *incident.Result
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTileBackend injects a tile backend instead of opening one from config.
func WithTileBackend(b tilestore.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithPrefs injects a preference store instead of the SQLite file.
func WithPrefs(p prefs.Store) Option {
	return func(a *App) { a.prefs = p }
}

// WithFetcher injects the tile fetcher used for the proxy and downloads.
func WithFetcher(f offline.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		state:     driveState{language: cfg.Voice.Language},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Translations ──────────────────────────────────────────────────
	cat, err := i18n.New()
	if err != nil {
		return nil, fmt.Errorf("app: init i18n: %w", err)
	}
	a.catalog = cat

	// ── 2. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 3. Offline regions + tile API ────────────────────────────────────
	a.initOffline(ctx)

	// ── 4. Incidents, speech, assistant ──────────────────────────────────
	a.initServices()

	// ── 5. Voice ─────────────────────────────────────────────────────────
	a.initVoice()

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the preference store and the tile backend.
func (a *App) initStorage(ctx context.Context) error {
	var db *sqlite.DB
	needSQLite := a.prefs == nil || (a.backend == nil && a.cfg.Storage.Driver != config.StoragePostgres)
	if needSQLite {
		var err error
		db, err = sqlite.Open(ctx, a.cfg.Storage.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		slog.Info("app: opened sqlite database", "path", a.cfg.Storage.Path)
	}
	if a.prefs == nil {
		a.prefs = db
	}

	switch {
	case a.backend != nil:
		a.tiles = tilestore.NewCacheFor(a.backend)
	case a.cfg.Storage.Driver == config.StoragePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		// The pool connects on demand, so the migration runs on first use and
		// the app still starts while the database is unreachable.
		a.tiles = tilestore.NewCache(func(ctx context.Context) (tilestore.Backend, error) {
			st := postgres.New(pool)
			if err := st.Migrate(ctx); err != nil {
				return nil, err
			}
			slog.Info("app: postgres tile store ready")
			return st, nil
		})
	default:
		a.tiles = tilestore.NewCacheFor(db)
	}

	a.tracker = regionstatus.New(a.prefs)
	return nil
}

// initOffline builds the download manager and its HTTP surface.
func (a *App) initOffline(ctx context.Context) {
	tc := a.cfg.Tiles
	if a.fetcher == nil {
		a.upstream = offline.NewHTTPFetcher(offline.HTTPFetcherConfig{
			UserAgent:   tc.UserAgent,
			Timeout:     tc.Timeout,
			MinInterval: tc.MinInterval,
			Metrics:     a.metrics,
		})
		a.fetcher = a.upstream
	}

	a.regions = offline.New(a.tiles, a.tracker, a.fetcher,
		offline.WithSource(tc.Source()),
		offline.WithCatalog(tc.Catalog()),
		offline.WithConcurrency(tc.DownloadConcurrency),
		offline.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, unsubscribeCloser(a.regions.Subscribe(a.onRegionStatus)))

	var proxy offline.Fetcher
	if !tc.OfflineOnly {
		proxy = a.fetcher
	}
	jobs, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelJobs = cancel
	a.tileAPI = tileserver.New(a.regions, proxy,
		tileserver.WithBaseContext(jobs),
		tileserver.WithTranslate(func(lang string) tileserver.Translator { return a.catalog.For(lang) }),
	)

	checks := []health.Checker{
		health.TileStore(a.tiles),
		{
			Name: "prefs",
			Check: func(ctx context.Context) error {
				_, _, err := a.prefs.Get(ctx, regionstatus.Key)
				return err
			},
		},
	}
	if a.upstream != nil {
		checks = append(checks, health.Breaker("tiles-upstream", a.upstream.Breaker()))
	}
	a.health = health.New(checks...)
}

// initServices builds the incident submitter, the speaker and the assistant.
func (a *App) initServices() {
	timeout := a.cfg.Incidents.Timeout
	if timeout <= 0 {
		timeout = defaultIncidentTimeout
	}
	a.incidents = incident.New(a.cfg.Incidents.WebhookURL,
		incident.WithHTTPClient(&http.Client{Timeout: timeout}),
		incident.WithMetrics(a.metrics),
	)

	if a.providers.TTS != nil && a.providers.Player != nil {
		a.speaker = speech.New(a.providers.TTS, a.providers.Player,
			speech.WithProviderName(a.cfg.Providers.TTS.Name),
			speech.WithMetrics(a.metrics),
		)
	}

	if a.providers.LLM != nil {
		maxHistory := a.cfg.Assistant.MaxHistory
		a.assistant = assistant.New(a.providers.LLM,
			func(lang string) assistant.Translator { return a.catalog.For(lang) },
			assistant.WithContext(a.driveContext),
			assistant.WithProviderName(a.cfg.Providers.LLM.Name),
			assistant.WithMaxHistory(maxHistory),
			assistant.WithMetrics(a.metrics),
		)
	}

	a.router = voicecmd.New(
		func(lang string) voicecmd.Translator { return a.catalog.For(lang) },
		a.speaker,
		voicecmd.Actions{
			TogglePavementLayer:   a.togglePavement,
			OpenReport:            a.reportIncident,
			Search:                a.search,
			OpenAlerts:            a.openAlerts,
			AskAssistant:          a.askAssistant,
			RequestLanguageSwitch: a.offerLanguage,
		},
		voicecmd.WithMetrics(a.metrics),
	)
	a.router.Prompt().OnHide(func(lang string) {
		slog.Info("app: language switch declined", "language", lang)
	})
}

// initVoice builds the voice controller when a recognizer is configured.
func (a *App) initVoice() {
	vc := a.cfg.Voice
	a.settings = voice.NewSettingsStore(a.prefs, voice.Settings{WakeWord: vc.WakeWord})
	if a.providers.Recognizer == nil || vc.Disabled {
		slog.Info("app: voice loop disabled")
		return
	}
	a.voice = voice.New(a.providers.Recognizer, a.settings,
		voice.WithLanguage(vc.Language),
		voice.WithRestartDelay(vc.RestartDelay),
		voice.WithMinSession(vc.MinSession),
		voice.WithWakeMatcher(voice.NewWakeMatcher(vc.PhoneticWakeWord, vc.PhoneticThreshold)),
		voice.WithHandler(a.handleUtterance),
		voice.WithNotifier(a.notify),
		voice.WithAcknowledge(func(ctx context.Context) {
			lang := a.Language()
			a.speak(ctx, a.catalog.T(lang, voice.KeyWakeAcknowledged, nil), lang)
		}),
		voice.WithMetrics(a.metrics),
	)
}

// initHTTP assembles the mux and the server.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	a.tileAPI.Register(mux)
	a.health.Register(mux)
	a.registerAPI(mux)
	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	a.handler = observe.Middleware(a.metrics,
		observe.WithRouteLabel(tileserver.RouteLabel),
		observe.WithQuietRequests(tileserver.IsTileRequest),
	)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Regions returns the offline download manager.
func (a *App) Regions() *offline.Manager { return a.regions }

// Voice returns the voice controller, or nil when the voice loop is off.
func (a *App) Voice() *voice.Controller { return a.voice }

// Translate returns the localized text for key in the active language.
func (a *App) Translate(key string, params map[string]string) string {
	return a.catalog.T(a.Language(), key, params)
}

// Language returns the active UI language.
func (a *App) Language() string {
	if a.voice != nil {
		return a.voice.Language()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.language
}

// SetLanguage switches the UI language. The voice loop restarts in the new
// language.
func (a *App) SetLanguage(ctx context.Context, lang string) error {
	a.mu.Lock()
	a.state.language = lang
	a.mu.Unlock()
	if a.voice != nil {
		return a.voice.SetLanguage(ctx, lang)
	}
	return nil
}

// ApplyConfig applies the live parts of a reloaded config. Everything else
// waits for a restart.
func (a *App) ApplyConfig(ctx context.Context, diff config.ConfigDiff, cfg *config.Config) error {
	if !diff.VoiceChanged {
		return nil
	}
	var errs []error
	if cfg.Voice.Language != a.cfg.Voice.Language {
		if err := a.SetLanguage(ctx, cfg.Voice.Language); err != nil {
			errs = append(errs, fmt.Errorf("language: %w", err))
		}
	}
	if cfg.Voice.WakeWord != a.cfg.Voice.WakeWord && a.voice != nil {
		if err := a.voice.SetWakeWord(ctx, cfg.Voice.WakeWord); err != nil {
			errs = append(errs, fmt.Errorf("wake word: %w", err))
		}
	}
	a.cfg.Voice.Language = cfg.Voice.Language
	a.cfg.Voice.WakeWord = cfg.Voice.WakeWord
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: apply config: %w", err)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and drives the voice loop until ctx is cancelled or either
// fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.voice != nil {
		g.Go(func() error {
			err := a.voice.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("app: http shutdown", "err", err)
		}
		return nil
	})

	slog.Info("app running", "regions", len(a.regions.Regions()), "voice", a.voice != nil, "assistant", a.assistant != nil)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown gracefully tears down all subsystems in order. It stops the HTTP
// server, cancels running region jobs and waits for them, then runs the
// closers. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		if a.cancelJobs != nil {
			a.cancelJobs()
		}
		done := make(chan struct{})
		go func() {
			a.tileAPI.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for region jobs")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far. Used when New fails halfway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func unsubscribeCloser(unsubscribe func()) func() error {
	return func() error {
		unsubscribe()
		return nil
	}
}

// onRegionStatus logs every region whose status changed since the last
// notification.
func (a *App) onRegionStatus(all map[string]regionstatus.Entry) {
	a.mu.Lock()
	prev := a.statuses
	a.statuses = maps.Clone(all)
	a.mu.Unlock()

	lang := a.Language()
	for _, r := range a.regions.Regions() {
		cur, ok := all[r.ID]
		if !ok {
			cur = regionstatus.Entry{Status: regionstatus.None}
		}
		old, ok := prev[r.ID]
		if !ok {
			old = regionstatus.Entry{Status: regionstatus.None}
		}
		if cur.Status == old.Status {
			continue
		}
		msg := a.catalog.T(lang, "region-status-change", map[string]string{
			"region": a.catalog.T(lang, r.NameKey, nil),
			"status": string(cur.Status),
		})
		slog.Info("app: region status changed", "region", r.ID, "status", cur.Status, "message", msg)
	}
}

// driveContext feeds the assistant the current location and weather.
func (a *App) driveContext(context.Context) assistant.DriveContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	dc := assistant.DriveContext{Weather: a.state.weather}
	if a.state.location != nil {
		loc := *a.state.location
		dc.Location = &loc
	}
	return dc
}
