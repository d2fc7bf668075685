package config_test

import (
	"testing"
	"time"

	"github.com/mylee04/email-manager/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram", Model: "nova-2"},
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Speech: config.SpeechConfig{
			SampleRate: 16000,
			Channels:   1,
			Language:   "en-US",
		},
		Conversation: config.ConversationConfig{
			IdleTimeout:  5 * time.Minute,
			AgentTimeout: time.Minute,
		},
		Browser: config.BrowserConfig{BaseURL: "http://localhost:7000"},
		Archive: config.ArchiveConfig{PostgresDSN: "postgres://localhost/em"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
	if d.RestartRequired {
		t.Error("RestartRequired should be false")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change alone should not require a restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9090" }},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"app.example.com"} }},
		{"stt model", func(c *config.Config) { c.Providers.STT.Model = "nova-3" }},
		{"llm key", func(c *config.Config) { c.Providers.LLM.APIKey = "sk-new" }},
		{"sample rate", func(c *config.Config) { c.Speech.SampleRate = 48000 }},
		{"keywords", func(c *config.Config) { c.Speech.Keywords = []string{"unsubscribe:5"} }},
		{"agent timeout", func(c *config.Config) { c.Conversation.AgentTimeout = 2 * time.Minute }},
		{"browser url", func(c *config.Config) { c.Browser.BaseURL = "http://sidecar:7000" }},
		{"archive dsn", func(c *config.Config) { c.Archive.PostgresDSN = "" }},
		{"tls added", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Error("RestartRequired should be true")
			}
		})
	}
}
