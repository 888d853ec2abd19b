// Command sadaksathi runs the Sadak Sathi navigation companion: the offline
// tile proxy, region downloads and the hands-free voice loop.
//
// Usage:
//
//	sadaksathi [-config path] [serve]
//	sadaksathi [-config path] regions
//	sadaksathi [-config path] download <region-id>
//	sadaksathi [-config path] delete <region-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/MrWong99/sadaksathi/internal/app"
	"github.com/MrWong99/sadaksathi/internal/config"
	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/regionstatus"
	"github.com/MrWong99/sadaksathi/pkg/tile"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Usage = usage
	flag.Parse()

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sadaksathi: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sadaksathi: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, *configPath, cfg, level)
	case "regions":
		return withApp(ctx, cfg, listRegions)
	case "download", "delete":
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "sadaksathi: %s needs exactly one region ID\n", cmd)
			return 2
		}
		return withApp(ctx, cfg, func(ctx context.Context, a *app.App) int {
			return regionJob(ctx, a, cmd, args[0])
		})
	default:
		fmt.Fprintf(os.Stderr, "sadaksathi: unknown command %q\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: sadaksathi [-config path] [serve | regions | download <id> | delete <id>]\n\n")
	flag.PrintDefaults()
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(ctx context.Context, configPath string, cfg *config.Config, level *slog.LevelVar) int {
	slog.Info("sadaksathi starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetricsHandler(tel.MetricsHandler()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if err := application.ApplyConfig(ctx, diff, next); err != nil {
			slog.Warn("config reload partially applied", "err", err)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config sections changed that need a restart", "sections", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Region commands ───────────────────────────────────────────────────────────

// withApp builds an app without voice providers, runs fn and shuts down.
func withApp(ctx context.Context, cfg *config.Config, fn func(context.Context, *app.App) int) int {
	cfg.Voice.Disabled = true
	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sadaksathi: %v\n", err)
		return 1
	}
	code := fn(ctx, application)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "sadaksathi: shutdown: %v\n", err)
		return 1
	}
	return code
}

func listRegions(ctx context.Context, a *app.App) int {
	m := a.Regions()
	statuses := m.Statuses(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tZOOM\tTILES\tSTATUS")
	for _, r := range m.Regions() {
		e, ok := statuses[r.ID]
		if !ok {
			e = regionstatus.Entry{Status: regionstatus.None}
		}
		status := string(e.Status)
		if e.Progress != nil && e.Status == regionstatus.Downloading {
			status = fmt.Sprintf("%s (%d%%)", status, *e.Progress)
		}
		fmt.Fprintf(w, "%s\t%s\t%d-%d\t%d\t%s\n",
			r.ID, a.Translate(r.NameKey, nil), r.MinZoom, r.MaxZoom, tile.Count(r), status)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "sadaksathi: %v\n", err)
		return 1
	}
	return 0
}

func regionJob(ctx context.Context, a *app.App, op, id string) int {
	m := a.Regions()
	last := -1
	progress := func(p int) {
		if p != last {
			last = p
			fmt.Fprintf(os.Stderr, "\r%s %s: %3d%%", op, id, p)
		}
	}

	var err error
	if op == "download" {
		err = m.DownloadByID(ctx, id, progress)
	} else {
		err = m.DeleteByID(ctx, id, progress)
	}
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sadaksathi: %s %s: %v\n", op, id, err)
		return 1
	}
	fmt.Printf("%s %s: done\n", op, id)
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Sadak Sathi startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Storage", string(cfg.Storage.Driver))
	printRow("Language", cfg.Voice.Language)
	if cfg.Voice.Disabled {
		printRow("Voice", "(disabled)")
	} else {
		printRow("Wake word", cfg.Voice.WakeWord)
	}
	if cfg.Tiles.OfflineOnly {
		printRow("Tiles", "offline only")
	}
	if cfg.Incidents.WebhookURL == "" {
		printRow("Incidents", "(simulated)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
