package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when the language or the wake phrase changed.
	// Both apply to the next listening session.
	VoiceChanged bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart, in config order.
	RestartRequired []string
}

// Changed reports whether d contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	if ov.Language != nv.Language || ov.WakeWord != nv.WakeWord {
		d.VoiceChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !tilesEqual(old.Tiles, new.Tiles) {
		d.RestartRequired = append(d.RestartRequired, "tiles")
	}
	restartOnly := func(v VoiceConfig) VoiceConfig {
		v.Language, v.WakeWord = "", ""
		return v
	}
	if restartOnly(ov) != restartOnly(nv) {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Assistant != new.Assistant {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if old.Incidents != new.Incidents {
		d.RestartRequired = append(d.RestartRequired, "incidents")
	}

	return d
}

func tilesEqual(a, b TilesConfig) bool {
	return a.Template == b.Template &&
		slices.Equal(a.Subdomains, b.Subdomains) &&
		a.UserAgent == b.UserAgent &&
		a.Timeout == b.Timeout &&
		a.MinInterval == b.MinInterval &&
		a.DownloadConcurrency == b.DownloadConcurrency &&
		a.OfflineOnly == b.OfflineOnly &&
		slices.Equal(a.Regions, b.Regions)
}
