package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	browsermock "github.com/mylee04/email-manager/internal/browser/mock"
	"github.com/mylee04/email-manager/internal/conversation"
	"github.com/mylee04/email-manager/pkg/provider/llm"
	llmmock "github.com/mylee04/email-manager/pkg/provider/llm/mock"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type agentHarness struct {
	service *Service
	llm     *llmmock.Provider
	factory *browsermock.Factory
	runner  *browsermock.Runner
	store   *conversation.Store
	session conversation.Session
}

func newAgentHarness(t *testing.T, cfg Config) *agentHarness {
	t.Helper()

	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Millisecond
	}

	llmProvider := &llmmock.Provider{}
	runner := &browsermock.Runner{RunResult: "Archived 3 emails."}
	factory := &browsermock.Factory{Runner: runner}
	store := conversation.NewStore(newTestLogger())
	session := store.Create()

	return &agentHarness{
		service: New(llmProvider, store, factory, newTestLogger(), cfg),
		llm:     llmProvider,
		factory: factory,
		runner:  runner,
		store:   store,
		session: session,
	}
}

func (h *agentHarness) respond(t *testing.T, transcript string) conversation.RespondResult {
	t.Helper()
	result, err := h.service.Respond(context.Background(), conversation.RespondRequest{
		SessionID:  h.session.ID,
		Transcript: transcript,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	return result
}

func TestRespond_GreetingSkipsLLM(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})

	result := h.respond(t, "Hello!")

	if result.Reply != GreetingReply {
		t.Fatalf("reply = %q, want greeting", result.Reply)
	}
	if result.Action != "" {
		t.Fatalf("action = %q, want empty", result.Action)
	}
	if got := h.llm.CompleteCallCount(); got != 0 {
		t.Fatalf("LLM calls = %d, want 0", got)
	}
}

func TestRespond_GreetingVerdict(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "SIMPLE_GREETING"}

	result := h.respond(t, "howdy partner")

	if result.Reply != GreetingReply {
		t.Fatalf("reply = %q, want greeting", result.Reply)
	}
	if got := h.llm.CompleteCallCount(); got != 1 {
		t.Fatalf("LLM calls = %d, want 1", got)
	}
}

func TestRespond_DirectReply(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "You asked me to check your inbox earlier."}

	result := h.respond(t, "what did I ask you before?")

	if result.Reply != "You asked me to check your inbox earlier." {
		t.Fatalf("reply = %q", result.Reply)
	}
	if got := h.runner.RunCallCount(); got != 0 {
		t.Fatalf("browser runs = %d, want 0", got)
	}
}

func TestRespond_BrowserAction(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "BROWSER_ACTION: Archive all promotional emails"}

	result := h.respond(t, "archive my promo emails")

	if result.Reply != "Archived 3 emails." {
		t.Fatalf("reply = %q", result.Reply)
	}
	if result.Action != "Archive all promotional emails" {
		t.Fatalf("action = %q", result.Action)
	}
	if got := h.runner.RunCallCount(); got != 1 {
		t.Fatalf("browser runs = %d, want 1", got)
	}
	if task := h.runner.RunCalls[0].Task; task != "Archive all promotional emails" {
		t.Fatalf("task = %q", task)
	}
}

func TestRespond_RunnerReusedAcrossTurns(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "BROWSER_ACTION: Open the inbox"}

	h.respond(t, "open my inbox")
	h.respond(t, "open my inbox again")

	if got := h.factory.NewRunnerCallCount(); got != 1 {
		t.Fatalf("runners created = %d, want 1", got)
	}
	if got := h.runner.RunCallCount(); got != 2 {
		t.Fatalf("browser runs = %d, want 2", got)
	}
	if h.store.Resource(h.session.ID) == nil {
		t.Fatal("runner not attached to session")
	}
}

func TestRespond_HistoryForwardedToLLM(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "Sure."}

	history := []conversation.ConversationTurn{
		{UserText: "open my inbox", AssistantText: "Opened your inbox."},
		{UserText: "any unread?", AssistantText: "Two unread emails."},
	}
	_, err := h.service.Respond(context.Background(), conversation.RespondRequest{
		SessionID:  h.session.ID,
		Transcript: "read the first one",
		History:    history,
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	req := h.llm.CompleteCalls[0].Req
	if req.SystemPrompt == "" {
		t.Fatal("system prompt missing")
	}
	// Two history turns expand to four messages plus the live utterance.
	if len(req.Messages) != 5 {
		t.Fatalf("messages = %d, want 5", len(req.Messages))
	}
	if req.Messages[0].Content != "open my inbox" || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("first message = %+v", req.Messages[0])
	}
	if last := req.Messages[4]; last.Content != "read the first one" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestRespond_KeywordFallbackMailbox(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteErr = errors.New("model overloaded")

	result := h.respond(t, "archive my newsletter emails")

	if result.Reply != "Archived 3 emails." {
		t.Fatalf("reply = %q, want browser result", result.Reply)
	}
	if got := h.runner.RunCallCount(); got != 1 {
		t.Fatalf("browser runs = %d, want 1", got)
	}
	if !strings.Contains(h.runner.RunCalls[0].Task, "archive my newsletter emails") {
		t.Fatalf("task = %q", h.runner.RunCalls[0].Task)
	}
}

func TestRespond_KeywordFallbackConversational(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteErr = errors.New("model overloaded")

	result := h.respond(t, "what's the weather like?")

	if !strings.Contains(result.Reply, "rephrase") {
		t.Fatalf("reply = %q, want rephrase nudge", result.Reply)
	}
	if got := h.runner.RunCallCount(); got != 0 {
		t.Fatalf("browser runs = %d, want 0", got)
	}
}

func TestRespond_BrowserFailureReturnsError(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "BROWSER_ACTION: Delete all spam"}
	h.runner.RunErr = errors.New("sidecar unreachable")

	_, err := h.service.Respond(context.Background(), conversation.RespondRequest{
		SessionID:  h.session.ID,
		Transcript: "delete my spam",
	})
	if err == nil {
		t.Fatal("expected error from failed browser task")
	}
}

func TestRespond_NoFactoryExplainsBrowsingUnavailable(t *testing.T) {
	t.Parallel()
	llmProvider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "BROWSER_ACTION: Open the inbox"},
	}
	store := conversation.NewStore(newTestLogger())
	session := store.Create()
	service := New(llmProvider, store, nil, newTestLogger(), Config{Cooldown: time.Millisecond})

	result, err := service.Respond(context.Background(), conversation.RespondRequest{
		SessionID:  session.ID,
		Transcript: "open my inbox",
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(result.Reply, "not available") {
		t.Fatalf("reply = %q", result.Reply)
	}
}

func TestRespond_EmptyTranscript(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{})

	_, err := h.service.Respond(context.Background(), conversation.RespondRequest{
		SessionID:  h.session.ID,
		Transcript: "   ",
	})
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestRespond_CooldownDelaysSecondRequest(t *testing.T) {
	t.Parallel()
	h := newAgentHarness(t, Config{Cooldown: 60 * time.Millisecond})
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "Sure."}

	started := time.Now()
	h.respond(t, "tell me something")
	h.respond(t, "tell me something else")
	elapsed := time.Since(started)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("second request finished after %v, want the cooldown delay applied", elapsed)
	}
	if got := h.llm.CompleteCallCount(); got != 2 {
		t.Fatalf("LLM calls = %d, want 2", got)
	}
}

func TestIsGreeting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"hello", true},
		{"Hello!", true},
		{"  hey there ", true},
		{"Good morning", true},
		{"hello, archive my emails", false},
		{"open my inbox", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isGreeting(tc.in); got != tc.want {
			t.Errorf("isGreeting(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
