package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mylee04/email-manager/pkg/provider/stt"
)

// WorkerConfig carries the tunables for a recognition stream worker.
type WorkerConfig struct {
	// IdleTimeout is how long the worker blocks for the first chunk of a cycle
	// before pushing a still-listening ping and waiting again. Zero applies
	// the default.
	IdleTimeout time.Duration

	// RestartBackoff is the fixed pause after a recognition stream error
	// before a fresh stream is opened. Zero applies the default.
	RestartBackoff time.Duration

	// NotifyTimeout bounds bridge waits for best-effort notifications
	// (interims, pings). Zero applies the default.
	NotifyTimeout time.Duration

	// TurnTimeout bounds the bridge wait for a full turn. The turn keeps
	// running if the wait expires. Zero applies the default.
	TurnTimeout time.Duration

	// Stream is the recognition configuration passed to every StartStream.
	Stream stt.StreamConfig
}

const (
	defaultIdleTimeout    = 5 * time.Minute
	defaultRestartBackoff = 2 * time.Second
	defaultNotifyTimeout  = 1 * time.Second
	defaultTurnTimeout    = 90 * time.Second

	// feedPollInterval is how often the feed goroutine re-checks for cycle end
	// while waiting for audio.
	feedPollInterval = 100 * time.Millisecond
)

// WorkerMetrics receives worker lifecycle observations. A nil WorkerMetrics
// disables recording.
type WorkerMetrics interface {
	RecognitionRestarted(ctx context.Context, sessionID string)
}

// Worker runs the per-session recognition loop: it pulls audio chunks off the
// session's queue, streams them to the STT provider, forwards interim
// transcripts, and hands each final transcript to the turn processor. Every
// turn ends the current recognition stream; the next utterance gets a fresh
// one, which keeps provider-side utterance segmentation from bleeding across
// turns.
//
// A stream-level error never kills the worker: the queue is drained, the
// worker sleeps for the restart backoff, and a new stream is opened.
type Worker struct {
	sessionID string
	queue     *AudioQueue
	bridge    *Bridge
	sender    Sender
	store     *Store
	provider  stt.Provider
	turns     *TurnProcessor
	metrics   WorkerMetrics
	logger    *slog.Logger
	cfg       WorkerConfig

	stopped atomic.Bool
	done    chan struct{}
}

// NewWorker assembles a worker for one session. metrics may be nil.
func NewWorker(sessionID string, queue *AudioQueue, bridge *Bridge, sender Sender, store *Store, provider stt.Provider, turns *TurnProcessor, metrics WorkerMetrics, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = defaultRestartBackoff
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	return &Worker{
		sessionID: sessionID,
		queue:     queue,
		bridge:    bridge,
		sender:    sender,
		store:     store,
		provider:  provider,
		turns:     turns,
		metrics:   metrics,
		logger:    logger.With("session_id", sessionID),
		cfg:       cfg,
	}
}

// Start launches the worker goroutine. Call Stop then wait on Done to shut it
// down.
func (w *Worker) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop requests shutdown. The sentinel unblocks a worker waiting for audio.
// Safe to call more than once and from any goroutine.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	w.queue.PushSentinel()
}

// Done is closed when the worker goroutine has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("recognition worker started")

	for !w.stopped.Load() && ctx.Err() == nil {
		if dropped := w.queue.Drain(); dropped > 0 {
			w.logger.Debug("dropped stale audio chunks", "count", dropped)
		}

		// Block for the first chunk of the next utterance.
		first, err := w.queue.PopWait(w.cfg.IdleTimeout)
		switch {
		case errors.Is(err, ErrQueueDone):
			w.logger.Info("recognition worker stopping", "reason", "end of audio")
			return
		case errors.Is(err, ErrQueueTimeout):
			w.notify(NewPingMessage(w.sessionID))
			continue
		}

		// The first chunk must reach the stream too, ahead of anything the
		// client sent while the stream was being opened.
		w.queue.Requeue(first)
		w.store.SetStatus(w.sessionID, StatusListening)

		if err := w.runCycle(ctx); err != nil {
			if w.stopped.Load() || ctx.Err() != nil {
				w.notifyTerminal(err)
				break
			}
			w.logger.Error("recognition stream failed", "error", err)
			if w.metrics != nil {
				w.metrics.RecognitionRestarted(ctx, w.sessionID)
			}
			w.queue.Drain()
			if !w.sleep(ctx, w.cfg.RestartBackoff) {
				w.notifyTerminal(err)
				break
			}
		}
	}
	w.logger.Info("recognition worker stopped")
}

// runCycle opens one recognition stream and consumes it until a final
// transcript completes a turn, the stream ends, or shutdown is requested.
// A nil return means the cycle ended cleanly and the loop may start another.
func (w *Worker) runCycle(ctx context.Context) error {
	handle, err := w.provider.StartStream(ctx, w.cfg.Stream)
	if err != nil {
		return err
	}
	defer handle.Close()

	cycleOver := make(chan struct{})
	feedDone := make(chan struct{})
	var feedErr error
	go func() {
		defer close(feedDone)
		feedErr = w.feed(handle, cycleOver)
	}()
	endCycle := func() {
		close(cycleOver)
		<-feedDone
	}

	partials := handle.Partials()
	finals := handle.Finals()
	for {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if t.Text != "" {
				w.notify(NewInterimMessage(w.sessionID, t.Text))
			}

		case t, ok := <-finals:
			if !ok {
				// Stream ended without delivering a usable final.
				endCycle()
				if err := handle.Err(); err != nil {
					return err
				}
				return feedErr
			}
			if t.Text == "" {
				// No speech detected; keep the stream running.
				continue
			}
			endCycle()
			handle.Close()
			w.processTurn(t)
			return nil

		case <-ctx.Done():
			endCycle()
			return nil
		}
	}
}

// feed pumps queued audio into the stream until the cycle ends, the sentinel
// arrives, or a send fails. On sentinel it closes the handle so buffered audio
// is flushed and any pending final is still delivered.
func (w *Worker) feed(handle stt.SessionHandle, cycleOver <-chan struct{}) error {
	for {
		select {
		case <-cycleOver:
			return nil
		default:
		}

		chunk, err := w.queue.PopWait(feedPollInterval)
		switch {
		case errors.Is(err, ErrQueueTimeout):
			continue
		case errors.Is(err, ErrQueueDone):
			handle.Close()
			return nil
		}

		if err := handle.SendAudio(chunk); err != nil {
			handle.Close()
			return err
		}
	}
}

// processTurn hands the final transcript to the turn processor on the bridge.
func (w *Worker) processTurn(final stt.Transcript) {
	err := w.bridge.Do(w.cfg.TurnTimeout, func(jobCtx context.Context) error {
		w.turns.CompleteTurn(jobCtx, w.sessionID, w.sender, final)
		return nil
	})
	switch {
	case errors.Is(err, ErrBridgeTimeout):
		// The turn keeps running on the bridge; only this wait gave up.
		w.logger.Warn("turn processing exceeded wait", "timeout", w.cfg.TurnTimeout)
	case errors.Is(err, ErrBridgeClosed):
		w.logger.Warn("turn dropped", "reason", "bridge closed")
	case err != nil:
		w.logger.Error("turn processing failed", "error", err)
	}
}

// notifyTerminal makes a best-effort attempt to tell the client why the worker
// is going away. The bridge may already be shutting down, so the send can fail;
// the worker exits either way.
func (w *Worker) notifyTerminal(cause error) {
	w.notify(NewErrorMessage(w.sessionID, cause.Error()))
}

// notify pushes a payload through the bridge on a best-effort basis. Failures
// and timeouts are logged and otherwise ignored.
func (w *Worker) notify(payload any) {
	err := w.bridge.Do(w.cfg.NotifyTimeout, func(jobCtx context.Context) error {
		return w.sender.Send(jobCtx, payload)
	})
	if err != nil && !errors.Is(err, ErrBridgeClosed) {
		w.logger.Debug("notification not delivered", "error", err)
	}
}

// sleep pauses for d, returning false if shutdown was requested meanwhile.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !w.stopped.Load()
	case <-ctx.Done():
		return false
	}
}
