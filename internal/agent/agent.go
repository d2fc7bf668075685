// Package agent turns a final transcript into the assistant's reply. It
// classifies each utterance with the LLM, answers conversational requests
// directly, and executes mailbox commands through the session's browser
// runner. One runner per session is created lazily and reused across turns so
// the mailbox stays open between commands.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mylee04/email-manager/internal/browser"
	"github.com/mylee04/email-manager/internal/conversation"
	"github.com/mylee04/email-manager/pkg/provider/llm"
)

// GreetingReply answers small talk without an LLM round trip.
const GreetingReply = "Hello! I'm here to help you manage your Gmail emails. What can I do for you?"

// browserActionPrefix marks an intent-analysis verdict that names a mailbox
// task for the browser runner.
const browserActionPrefix = "BROWSER_ACTION:"

// simpleGreetingVerdict is the intent-analysis verdict for small talk.
const simpleGreetingVerdict = "SIMPLE_GREETING"

const intentSystemPrompt = `You are the command interpreter of a voice-controlled Gmail assistant.
Classify the user's utterance and answer with exactly one of:

1. SIMPLE_GREETING - the utterance is a greeting or small talk with no email intent.
2. BROWSER_ACTION: <task> - the utterance asks for something in the mailbox
   (reading, searching, archiving, deleting, composing, unsubscribing).
   Rephrase it as one imperative task for a browser automation agent.
3. Any other reply - answer the user directly in one or two spoken-style sentences.

Recent conversation turns are provided for context. Never invent mailbox contents.`

// Config carries the agent tunables.
type Config struct {
	// Cooldown is the minimum spacing between LLM requests across all
	// sessions. Requests arriving faster are delayed, not dropped. Zero
	// applies the default.
	Cooldown time.Duration

	// Temperature is passed to the LLM for intent analysis and direct replies.
	Temperature float64

	// MaxTokens caps intent-analysis completions. Zero applies the default.
	MaxTokens int
}

const (
	defaultCooldown  = 2 * time.Second
	defaultMaxTokens = 512
)

// Service implements conversation.Responder.
type Service struct {
	llm     llm.Provider
	store   *conversation.Store
	factory browser.Factory
	limiter *rate.Limiter
	logger  *slog.Logger
	cfg     Config
}

// Compile-time assertion.
var _ conversation.Responder = (*Service)(nil)

// New wires the agent service. llmProvider and store are required; factory may
// be nil, in which case mailbox commands are answered with an explanation that
// browsing is unavailable.
func New(llmProvider llm.Provider, store *conversation.Store, factory browser.Factory, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Service{
		llm:     llmProvider,
		store:   store,
		factory: factory,
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		logger:  logger,
		cfg:     cfg,
	}
}

// Respond produces the reply for one final transcript.
func (s *Service) Respond(ctx context.Context, req conversation.RespondRequest) (conversation.RespondResult, error) {
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		return conversation.RespondResult{}, fmt.Errorf("agent: empty transcript")
	}

	if isGreeting(transcript) {
		return conversation.RespondResult{Reply: GreetingReply}, nil
	}

	// Requests arriving inside the cooldown window wait their turn instead of
	// being answered with a canned fallback.
	if err := s.limiter.Wait(ctx); err != nil {
		return conversation.RespondResult{}, fmt.Errorf("agent: rate limit wait: %w", err)
	}

	verdict, err := s.analyzeIntent(ctx, req)
	if err != nil {
		s.logger.Warn("intent analysis failed, using keyword fallback",
			"session_id", req.SessionID, "error", err)
		verdict = keywordFallback(transcript)
	}

	switch {
	case verdict == simpleGreetingVerdict:
		return conversation.RespondResult{Reply: GreetingReply}, nil

	case strings.HasPrefix(verdict, browserActionPrefix):
		task := strings.TrimSpace(strings.TrimPrefix(verdict, browserActionPrefix))
		if task == "" {
			task = transcript
		}
		return s.runBrowserTask(ctx, req.SessionID, task)

	default:
		return conversation.RespondResult{Reply: verdict}, nil
	}
}

// analyzeIntent asks the LLM to classify the utterance.
func (s *Service) analyzeIntent(ctx context.Context, req conversation.RespondRequest) (string, error) {
	messages := make([]llm.Message, 0, len(req.History)*2+1)
	for _, turn := range req.History {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.UserText},
			llm.Message{Role: llm.RoleAssistant, Content: turn.AssistantText},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Transcript})

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: intentSystemPrompt,
		Messages:     messages,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	verdict := strings.TrimSpace(resp.Content)
	if verdict == "" {
		return "", fmt.Errorf("agent: empty intent verdict")
	}
	return verdict, nil
}

// runBrowserTask executes one mailbox task on the session's runner, creating
// and attaching the runner on first use.
func (s *Service) runBrowserTask(ctx context.Context, sessionID, task string) (conversation.RespondResult, error) {
	if s.factory == nil {
		return conversation.RespondResult{
			Reply: "I understood the request, but mailbox browsing is not available right now.",
		}, nil
	}

	runner, err := s.sessionRunner(ctx, sessionID)
	if err != nil {
		return conversation.RespondResult{}, fmt.Errorf("agent: open browser session: %w", err)
	}

	started := time.Now()
	result, err := runner.Run(ctx, task)
	if err != nil {
		return conversation.RespondResult{}, fmt.Errorf("agent: run browser task: %w", err)
	}
	s.logger.Info("browser task completed",
		"session_id", sessionID, "task", task, "duration", time.Since(started))

	return conversation.RespondResult{Reply: result, Action: task}, nil
}

// sessionRunner returns the session's attached runner, creating one if needed.
func (s *Service) sessionRunner(ctx context.Context, sessionID string) (browser.Runner, error) {
	if existing := s.store.Resource(sessionID); existing != nil {
		if runner, ok := existing.(browser.Runner); ok {
			return runner, nil
		}
	}

	runner, err := s.factory.NewRunner(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.store.AttachResource(sessionID, runner)
	return runner, nil
}

// greetingPhrases are matched as whole utterances after trimming punctuation.
var greetingPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"hi there": true, "hello there": true, "hey there": true,
}

// isGreeting reports whether the utterance is plain small talk.
func isGreeting(transcript string) bool {
	normalized := strings.ToLower(strings.TrimSpace(transcript))
	normalized = strings.TrimRight(normalized, ".!?,")
	return greetingPhrases[normalized]
}

// mailboxKeywords drive the fallback classification when the LLM is
// unreachable.
var mailboxKeywords = []string{
	"email", "emails", "inbox", "mail", "message", "messages",
	"archive", "unread", "compose", "reply", "unsubscribe", "spam", "delete",
}

// keywordFallback classifies without the LLM: utterances that mention the
// mailbox become browser tasks, everything else gets a spoken nudge that keeps
// the conversation going.
func keywordFallback(transcript string) string {
	lower := strings.ToLower(transcript)
	for _, kw := range mailboxKeywords {
		if strings.Contains(lower, kw) {
			return browserActionPrefix + " " + transcript
		}
	}
	return "I'm having trouble understanding right now. Could you rephrase that?"
}
