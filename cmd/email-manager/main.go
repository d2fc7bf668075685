// Command email-manager runs the voice-controlled Gmail assistant server.
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
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mylee04/email-manager/internal/agent"
	"github.com/mylee04/email-manager/internal/archive"
	"github.com/mylee04/email-manager/internal/browser"
	"github.com/mylee04/email-manager/internal/config"
	"github.com/mylee04/email-manager/internal/conversation"
	"github.com/mylee04/email-manager/internal/health"
	"github.com/mylee04/email-manager/internal/observe"
	"github.com/mylee04/email-manager/internal/resilience"
	"github.com/mylee04/email-manager/internal/server"
	"github.com/mylee04/email-manager/pkg/provider/llm"
	"github.com/mylee04/email-manager/pkg/provider/llm/anyllm"
	openaillm "github.com/mylee04/email-manager/pkg/provider/llm/openai"
	"github.com/mylee04/email-manager/pkg/provider/stt"
	"github.com/mylee04/email-manager/pkg/provider/stt/deepgram"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "email-manager: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "email-manager: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("email-manager starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "email-manager",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	sttProvider = resilience.GuardSTT(sttProvider, resilience.BreakerConfig{Name: "stt"}, logger)
	llmProvider = resilience.GuardLLM(llmProvider, resilience.BreakerConfig{Name: "llm"}, logger)
	slog.Info("providers created",
		"stt", cfg.Providers.STT.Name,
		"llm", cfg.Providers.LLM.Name,
		"llm_model", cfg.Providers.LLM.Model,
	)

	// ── Turn archive (optional) ───────────────────────────────────────────────
	var archiver conversation.TurnArchiver
	var history server.TurnSearcher
	var checkers []health.Checker
	if cfg.Archive.PostgresDSN != "" {
		store, err := archive.New(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect turn archive", "err", err)
			return 1
		}
		defer store.Close()
		archiver = store
		history = store
		checkers = append(checkers, health.PingChecker("archive", store))
		slog.Info("turn archive connected")
	} else {
		slog.Info("turn archive disabled, history is in-memory only")
	}

	// ── Browser automation (optional) ─────────────────────────────────────────
	var factory browser.Factory
	if cfg.Browser.BaseURL != "" {
		f, err := browser.NewClientFactory(cfg.Browser.BaseURL,
			browser.WithTaskTimeout(cfg.Browser.TaskTimeout))
		if err != nil {
			slog.Error("failed to create browser factory", "err", err)
			return 1
		}
		factory = f
		slog.Info("browser automation enabled", "base_url", cfg.Browser.BaseURL)
	} else {
		slog.Info("browser automation disabled, mailbox actions unavailable")
	}

	// ── Conversation core ─────────────────────────────────────────────────────
	sessions := conversation.NewStore(logger)
	responder := agent.New(llmProvider, sessions, factory, logger, agent.Config{
		Cooldown: cfg.Conversation.AICooldown,
	})
	turns := conversation.NewTurnProcessor(sessions, responder, archiver, metrics, logger, conversation.TurnProcessorConfig{
		AgentTimeout: cfg.Conversation.AgentTimeout,
		HistoryTurns: cfg.Conversation.HistoryTurns,
	})

	streamCfg, err := buildStreamConfig(cfg.Speech)
	if err != nil {
		slog.Error("invalid speech configuration", "err", err)
		return 1
	}

	srv := server.New(server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TLSCertFile:    tlsFile(cfg, func(t *config.TLSConfig) string { return t.CertFile }),
		TLSKeyFile:     tlsFile(cfg, func(t *config.TLSConfig) string { return t.KeyFile }),
		Worker: conversation.WorkerConfig{
			IdleTimeout:    cfg.Conversation.IdleTimeout,
			RestartBackoff: cfg.Conversation.RestartBackoff,
			NotifyTimeout:  cfg.Conversation.NotifyTimeout,
			Stream:         streamCfg,
		},
	}, server.Deps{
		Store:   sessions,
		STT:     sttProvider,
		Turns:   turns,
		History: history,
		Metrics: metrics,
		Health:  health.New(checkers...),
		Logger:  logger,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with the
// server into reg. Each factory receives a config.ProviderEntry and constructs
// the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// openai goes through the official SDK; everything else through any-llm.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
}

// buildStreamConfig maps the speech section of the config onto the
// recognition stream settings handed to each STT session.
func buildStreamConfig(sc config.SpeechConfig) (stt.StreamConfig, error) {
	out := stt.StreamConfig{
		SampleRate: sc.SampleRate,
		Channels:   sc.Channels,
		Encoding:   sc.Encoding,
		Language:   sc.Language,
	}
	for _, entry := range sc.Keywords {
		word, boost, err := config.ParseKeyword(entry)
		if err != nil {
			return stt.StreamConfig{}, err
		}
		out.Keywords = append(out.Keywords, stt.KeywordBoost{Keyword: word, Boost: boost})
	}
	return out, nil
}

func tlsFile(cfg *config.Config, pick func(*config.TLSConfig) string) string {
	if cfg.Server.TLS == nil {
		return ""
	}
	return pick(cfg.Server.TLS)
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
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
