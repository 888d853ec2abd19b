package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/sadaksathi/internal/prefs"
)

// SettingsKey is the preference key holding the voice settings record.
const SettingsKey = "voiceSettings"

// DefaultWakeWord is used when no wake word has been configured.
const DefaultWakeWord = "hey sathi"

// Settings is the persisted voice feature configuration.
type Settings struct {
	WakeWord  string `json:"wakeWord"`
	IsEnabled bool   `json:"isEnabled"`
}

// DefaultSettings returns the settings used when nothing is stored.
func DefaultSettings() Settings {
	return Settings{WakeWord: DefaultWakeWord, IsEnabled: true}
}

// SettingsStore persists [Settings] in a [prefs.Store].
type SettingsStore struct {
	prefs    prefs.Store
	defaults Settings
}

// NewSettingsStore returns a store backed by p. defaults is returned when the
// record is missing or unreadable; a zero WakeWord falls back to
// [DefaultWakeWord].
func NewSettingsStore(p prefs.Store, defaults Settings) *SettingsStore {
	if strings.TrimSpace(defaults.WakeWord) == "" {
		defaults.WakeWord = DefaultWakeWord
	}
	return &SettingsStore{prefs: p, defaults: defaults}
}

// Load returns the stored settings. Read failures and corrupt records are
// logged and yield the defaults.
func (s *SettingsStore) Load(ctx context.Context) Settings {
	raw, ok, err := s.prefs.Get(ctx, SettingsKey)
	if err != nil {
		slog.Warn("voice: read settings failed, using defaults", "error", err)
		return s.defaults
	}
	if !ok {
		return s.defaults
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		slog.Warn("voice: corrupt settings record, using defaults", "error", err)
		return s.defaults
	}
	if strings.TrimSpace(st.WakeWord) == "" {
		st.WakeWord = s.defaults.WakeWord
	}
	return st
}

// Save writes st.
func (s *SettingsStore) Save(ctx context.Context, st Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("voice: encode settings: %w", err)
	}
	if err := s.prefs.Set(ctx, SettingsKey, string(data)); err != nil {
		return fmt.Errorf("voice: save settings: %w", err)
	}
	return nil
}
