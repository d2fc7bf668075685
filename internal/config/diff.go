package config

import "slices"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; everything else is reported so the
// operator can be told a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true when any field other than the log level
	// changed. Sessions hold their timing knobs and provider handles from
	// startup, so those changes only take effect on the next boot.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = true
	}
	if !providerEqual(old.Providers.STT, new.Providers.STT) ||
		!providerEqual(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = true
	}
	if old.Speech.SampleRate != new.Speech.SampleRate ||
		old.Speech.Channels != new.Speech.Channels ||
		old.Speech.Encoding != new.Speech.Encoding ||
		old.Speech.Language != new.Speech.Language ||
		!slices.Equal(old.Speech.Keywords, new.Speech.Keywords) {
		d.RestartRequired = true
	}
	if old.Conversation != new.Conversation {
		d.RestartRequired = true
	}
	if old.Browser != new.Browser {
		d.RestartRequired = true
	}
	if old.Archive != new.Archive {
		d.RestartRequired = true
	}

	return d
}

// providerEqual compares two provider entries ignoring the free-form Options
// map, which has no comparable representation worth diffing.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
