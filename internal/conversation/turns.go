package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/mylee04/email-manager/pkg/provider/stt"
)

// ApologyReply is delivered instead of an assistant reply when the assistant
// call fails or exceeds its deadline. The turn still completes normally.
const ApologyReply = "I'm sorry, I had trouble processing that request. Please try again."

// RespondRequest is what the assistant layer receives for one turn.
type RespondRequest struct {
	// SessionID identifies the conversation.
	SessionID string

	// Transcript is the user's final utterance text.
	Transcript string

	// History is the recent turn context, oldest first.
	History []ConversationTurn
}

// RespondResult is the assistant layer's answer for one turn.
type RespondResult struct {
	// Reply is the text delivered to the client.
	Reply string

	// Action names the task that was executed on the user's behalf, if any.
	Action string
}

// Responder produces the assistant reply for a completed utterance. The agent
// package provides the production implementation.
type Responder interface {
	Respond(ctx context.Context, req RespondRequest) (RespondResult, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, req RespondRequest) (RespondResult, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, req RespondRequest) (RespondResult, error) {
	return f(ctx, req)
}

// TurnProcessorConfig carries the tunables for turn processing.
type TurnProcessorConfig struct {
	// AgentTimeout bounds a single Responder call. Zero applies the default.
	AgentTimeout time.Duration

	// HistoryTurns is how many recent turns are handed to the Responder.
	// Zero applies the default.
	HistoryTurns int
}

const (
	defaultAgentTimeout = 60 * time.Second
	defaultHistoryTurns = 3
)

// TurnMetrics receives per-turn observations. The observe package provides the
// production implementation; a nil TurnMetrics disables recording.
type TurnMetrics interface {
	TurnProcessed(ctx context.Context, sessionID string, agentFailed bool, total, agent time.Duration)
}

// TurnProcessor runs the full final-transcript → reply → ready cycle for one
// session. All of its client-facing sends happen through the session's bridge,
// so the worker submits CompleteTurn as a single bridge job.
type TurnProcessor struct {
	store     *Store
	responder Responder
	archive   TurnArchiver
	metrics   TurnMetrics
	logger    *slog.Logger

	agentTimeout time.Duration
	historyTurns int
}

// TurnArchiver persists completed turns. Writes are best-effort; a nil
// archiver disables persistence.
type TurnArchiver interface {
	WriteTurn(ctx context.Context, sessionID string, turn ConversationTurn) error
}

// NewTurnProcessor wires a turn processor. store and responder are required;
// archive, metrics and logger may be nil.
func NewTurnProcessor(store *Store, responder Responder, archive TurnArchiver, metrics TurnMetrics, logger *slog.Logger, cfg TurnProcessorConfig) *TurnProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = defaultAgentTimeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	return &TurnProcessor{
		store:        store,
		responder:    responder,
		archive:      archive,
		metrics:      metrics,
		logger:       logger,
		agentTimeout: cfg.AgentTimeout,
		historyTurns: cfg.HistoryTurns,
	}
}

// CompleteTurn processes one final transcript end to end: processing notice,
// assistant call, final reply, history append, and — always, even on send
// failures — the ready-for-next signal.
//
// Assistant failures never abort the turn; the client receives ApologyReply
// and the turn is recorded with it.
func (tp *TurnProcessor) CompleteTurn(ctx context.Context, sessionID string, sender Sender, final stt.Transcript) {
	started := time.Now()
	logger := tp.logger.With("session_id", sessionID)

	defer func() {
		// The ready signal must go out no matter what happened above,
		// otherwise the client never resumes sending audio.
		if err := sender.Send(ctx, NewReadyMessage(sessionID)); err != nil {
			logger.Warn("send ready signal", "error", err)
		}
		tp.store.SetStatus(sessionID, StatusReadyForInput)
	}()

	tp.store.SetStatus(sessionID, StatusProcessingSTT)
	if err := sender.Send(ctx, NewProcessingMessage(sessionID, final.Text, final.Confidence)); err != nil {
		logger.Warn("send processing notice", "error", err)
	}

	tp.store.SetStatus(sessionID, StatusAwaitingAI)
	history := tp.store.RecentTurns(sessionID, tp.historyTurns)

	agentStart := time.Now()
	result, err := tp.respond(ctx, RespondRequest{
		SessionID:  sessionID,
		Transcript: final.Text,
		History:    history,
	})
	agentDur := time.Since(agentStart)
	agentFailed := err != nil
	if agentFailed {
		logger.Error("assistant request failed", "error", err, "duration", agentDur)
		result = RespondResult{Reply: ApologyReply}
	}

	tp.store.SetStatus(sessionID, StatusAIResponding)
	if err := sender.Send(ctx, NewFinalMessage(sessionID, final.Text, final.Confidence, result.Reply)); err != nil {
		logger.Warn("send final reply", "error", err)
	}

	total := time.Since(started)
	turn := tp.store.AppendTurn(sessionID, final.Text, result.Reply, result.Action, total)
	if tp.archive != nil && turn.ID != "" {
		if err := tp.archive.WriteTurn(ctx, sessionID, turn); err != nil {
			logger.Warn("archive turn", "turn_id", turn.ID, "error", err)
		}
	}
	if tp.metrics != nil {
		tp.metrics.TurnProcessed(ctx, sessionID, agentFailed, total, agentDur)
	}

	logger.Info("turn completed",
		"turn_id", turn.ID,
		"transcript_len", len(final.Text),
		"reply_len", len(result.Reply),
		"agent_failed", agentFailed,
		"duration", total)
}

// respond invokes the Responder under the configured deadline.
func (tp *TurnProcessor) respond(ctx context.Context, req RespondRequest) (RespondResult, error) {
	ctx, cancel := context.WithTimeout(ctx, tp.agentTimeout)
	defer cancel()
	return tp.responder.Respond(ctx, req)
}
