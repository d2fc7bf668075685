package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mylee04/email-manager/pkg/provider/llm"
	llmmock "github.com/mylee04/email-manager/pkg/provider/llm/mock"
	"github.com/mylee04/email-manager/pkg/provider/stt"
	sttmock "github.com/mylee04/email-manager/pkg/provider/stt/mock"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test"}, discardLogger())

	for range 10 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 3, Cooldown: time.Hour}, discardLogger())

	for range 3 {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Do = %v, want errBoom", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while breaker open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 3}, discardLogger())

	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbesCloseIt(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		TripAfter:   1,
		Cooldown:    10 * time.Millisecond,
		ProbeBudget: 2,
	}, discardLogger())

	b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	for range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after probes", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:      "test",
		TripAfter: 1,
		Cooldown:  10 * time.Millisecond,
	}, discardLogger())

	b.Do(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe = %v, want errBoom", err)
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", b.State())
	}
}

func TestGuardLLM_PassThrough(t *testing.T) {
	t.Parallel()
	inner := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hi"},
	}
	p := GuardLLM(inner, BreakerConfig{}, discardLogger())

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.CompleteCallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.CompleteCallCount())
	}
}

func TestGuardLLM_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	inner := &llmmock.Provider{CompleteErr: errBoom}
	p := GuardLLM(inner, BreakerConfig{TripAfter: 2, Cooldown: time.Hour}, discardLogger())

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}}}
	p.Complete(context.Background(), req)
	p.Complete(context.Background(), req)

	_, err := p.Complete(context.Background(), req)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Complete = %v, want ErrOpen", err)
	}
	if inner.CompleteCallCount() != 2 {
		t.Errorf("inner calls = %d, want 2 (third rejected)", inner.CompleteCallCount())
	}
}

func TestGuardSTT_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	inner := &sttmock.Provider{StartStreamErr: errBoom}
	p := GuardSTT(inner, BreakerConfig{TripAfter: 1, Cooldown: time.Hour}, discardLogger())

	p.StartStream(context.Background(), stt.StreamConfig{})
	_, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("StartStream = %v, want ErrOpen", err)
	}
	if inner.StartStreamCallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.StartStreamCallCount())
	}
}

func TestGuardSTT_PassThrough(t *testing.T) {
	t.Parallel()
	sess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript),
		FinalsCh:   make(chan stt.Transcript),
	}
	p := GuardSTT(&sttmock.Provider{Session: sess}, BreakerConfig{}, discardLogger())

	handle, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if handle != sess {
		t.Error("handle not passed through")
	}
}
