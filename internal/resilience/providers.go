package resilience

import (
	"context"
	"log/slog"

	"github.com/mylee04/email-manager/pkg/provider/llm"
	"github.com/mylee04/email-manager/pkg/provider/stt"
)

// guardedLLM wraps an llm.Provider with a circuit breaker.
type guardedLLM struct {
	inner   llm.Provider
	breaker *Breaker
}

var _ llm.Provider = (*guardedLLM)(nil)

// GuardLLM returns p wrapped with a circuit breaker. While the breaker is
// open, Complete fails immediately with [ErrOpen] instead of waiting out the
// provider's timeout; the agent's fallback path handles the error like any
// other LLM failure.
func GuardLLM(p llm.Provider, cfg BreakerConfig, logger *slog.Logger) llm.Provider {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &guardedLLM{inner: p, breaker: NewBreaker(cfg, logger)}
}

func (g *guardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Do(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// guardedSTT wraps an stt.Provider with a circuit breaker around StartStream.
// Stream-level errors after a successful open are the worker's business; the
// breaker only counts failures to establish a session at all.
type guardedSTT struct {
	inner   stt.Provider
	breaker *Breaker
}

var _ stt.Provider = (*guardedSTT)(nil)

// GuardSTT returns p wrapped with a circuit breaker. While the breaker is
// open, StartStream fails fast with [ErrOpen], which the worker treats like
// any other stream failure: drain, back off, retry.
func GuardSTT(p stt.Provider, cfg BreakerConfig, logger *slog.Logger) stt.Provider {
	if cfg.Name == "" {
		cfg.Name = "stt"
	}
	return &guardedSTT{inner: p, breaker: NewBreaker(cfg, logger)}
}

func (g *guardedSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var handle stt.SessionHandle
	err := g.breaker.Do(func() error {
		var err error
		handle, err = g.inner.StartStream(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}
