package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; speech sessions cannot transcribe audio")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; transcripts cannot be answered")
	}

	// Speech
	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must not be negative", cfg.Speech.SampleRate))
	}
	if cfg.Speech.Channels < 0 || cfg.Speech.Channels > 2 {
		errs = append(errs, fmt.Errorf("speech.channels %d is out of range [0, 2]", cfg.Speech.Channels))
	}
	for i, kw := range cfg.Speech.Keywords {
		if _, _, err := ParseKeyword(kw); err != nil {
			errs = append(errs, fmt.Errorf("speech.keywords[%d]: %w", i, err))
		}
	}

	// Conversation timing knobs must not be negative; zero means default.
	durations := []struct {
		name string
		d    interface{ Nanoseconds() int64 }
	}{
		{"conversation.idle_timeout", cfg.Conversation.IdleTimeout},
		{"conversation.restart_backoff", cfg.Conversation.RestartBackoff},
		{"conversation.agent_timeout", cfg.Conversation.AgentTimeout},
		{"conversation.notify_timeout", cfg.Conversation.NotifyTimeout},
		{"conversation.ai_cooldown", cfg.Conversation.AICooldown},
		{"browser.task_timeout", cfg.Browser.TaskTimeout},
	}
	for _, tc := range durations {
		if tc.d.Nanoseconds() < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", tc.name))
		}
	}
	if cfg.Conversation.HistoryTurns < 0 {
		errs = append(errs, errors.New("conversation.history_turns must not be negative"))
	}

	// Browser availability
	if cfg.Browser.BaseURL == "" {
		slog.Warn("browser.base_url is empty; mailbox browsing will not be available")
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; conversation turns will not be persisted")
	}

	return errors.Join(errs...)
}

// ParseKeyword splits a "word" or "word:boost" keyword entry. The default
// boost is 1.
func ParseKeyword(entry string) (word string, boost float64, err error) {
	word, boostStr, found := strings.Cut(entry, ":")
	word = strings.TrimSpace(word)
	if word == "" {
		return "", 0, fmt.Errorf("keyword %q has no word", entry)
	}
	if !found {
		return word, 1, nil
	}
	boost, err = strconv.ParseFloat(strings.TrimSpace(boostStr), 64)
	if err != nil {
		return "", 0, fmt.Errorf("keyword %q has a malformed boost: %w", entry, err)
	}
	if boost <= 0 {
		return "", 0, fmt.Errorf("keyword %q boost must be positive", entry)
	}
	return word, boost, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
