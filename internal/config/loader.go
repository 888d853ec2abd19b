package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sadaksathi/pkg/tile"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultStoragePath     = "sadaksathi.db"
	DefaultLanguage        = "en"
	DefaultWakeWord        = "hey sathi"
	DefaultRestartDelay    = 100 * time.Millisecond
	DefaultMinSession      = 500 * time.Millisecond
	DefaultShutdownTimeout = 15 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.Tiles.Template == "" {
		cfg.Tiles.Template = tile.OpenStreetMap.Template
		if len(cfg.Tiles.Subdomains) == 0 {
			cfg.Tiles.Subdomains = slices.Clone(tile.OpenStreetMap.Subdomains)
		}
	}
	if cfg.Tiles.DownloadConcurrency == 0 {
		cfg.Tiles.DownloadConcurrency = 1
	}

	if cfg.Voice.Language == "" {
		cfg.Voice.Language = DefaultLanguage
	}
	if cfg.Voice.WakeWord == "" {
		cfg.Voice.WakeWord = DefaultWakeWord
	}
	if cfg.Voice.RestartDelay == 0 {
		cfg.Voice.RestartDelay = DefaultRestartDelay
	}
	if cfg.Voice.MinSession == 0 {
		cfg.Voice.MinSession = DefaultMinSession
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Storage
	switch {
	case cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid():
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: sqlite, postgres", cfg.Storage.Driver))
	case cfg.Storage.Driver == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.driver is postgres"))
	}

	// Tiles
	errs = append(errs, validateTiles(cfg.Tiles)...)

	// Voice
	if t := cfg.Voice.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("voice.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Voice.RestartDelay < 0 {
		errs = append(errs, errors.New("voice.restart_delay must not be negative"))
	}
	if cfg.Voice.MinSession < 0 {
		errs = append(errs, errors.New("voice.min_session must not be negative"))
	}
	if !cfg.Voice.Disabled && cfg.Providers.STT.Name == "" {
		slog.Warn("voice is enabled but providers.stt is not configured; the voice loop will not start")
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.Model == "" {
		errs = append(errs, errors.New("providers.llm.model is required when providers.llm is configured"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; free-form questions will not be answered")
	}

	// Assistant
	if cfg.Assistant.MaxHistory < 0 {
		errs = append(errs, errors.New("assistant.max_history must not be negative"))
	}

	// Incidents
	if u := cfg.Incidents.WebhookURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("incidents.webhook_url %q must be an absolute http(s) URL", u))
		}
	}

	return errors.Join(errs...)
}

func validateTiles(t TilesConfig) []error {
	var errs []error
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if t.Template != "" && !strings.Contains(t.Template, ph) {
			errs = append(errs, fmt.Errorf("tiles.template is missing the %s placeholder", ph))
		}
	}
	if strings.Contains(t.Template, "{s}") && len(t.Subdomains) == 0 {
		errs = append(errs, errors.New("tiles.subdomains is required when tiles.template uses {s}"))
	}
	if t.DownloadConcurrency < 0 {
		errs = append(errs, errors.New("tiles.download_concurrency must not be negative"))
	}
	if t.Timeout < 0 || t.MinInterval < 0 {
		errs = append(errs, errors.New("tiles.timeout and tiles.min_interval must not be negative"))
	}
	if t.UserAgent == "" {
		slog.Warn("tiles.user_agent is empty; public OpenStreetMap servers may refuse tile requests")
	}

	seen := make(map[string]int, len(t.Regions))
	for i, rc := range t.Regions {
		prefix := fmt.Sprintf("tiles.regions[%d]", i)
		if err := rc.Region().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if rc.ID == "" {
			continue
		}
		if prev, ok := seen[rc.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of tiles.regions[%d]", prefix, rc.ID, prev))
		}
		seen[rc.ID] = i
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
