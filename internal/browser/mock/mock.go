// Package mock provides test doubles for the browser package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/mylee04/email-manager/internal/browser"
)

// RunCall records a single invocation of Runner.Run.
type RunCall struct {
	// Task is the task string passed to Run.
	Task string
}

// Runner is a mock implementation of browser.Runner.
type Runner struct {
	mu sync.Mutex

	// RunResult is returned by Run.
	RunResult string

	// RunErr, if non-nil, is returned as the error from Run.
	RunErr error

	// RunFunc, if non-nil, overrides RunResult/RunErr.
	RunFunc func(ctx context.Context, task string) (string, error)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// RunCalls records every call to Run in order.
	RunCalls []RunCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Run records the call and returns the scripted result.
func (r *Runner) Run(ctx context.Context, task string) (string, error) {
	r.mu.Lock()
	r.RunCalls = append(r.RunCalls, RunCall{Task: task})
	fn := r.RunFunc
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RunResult, r.RunErr
}

// Close records the call and returns CloseErr.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return r.CloseErr
}

// RunCallCount returns the number of Run calls. Thread-safe.
func (r *Runner) RunCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RunCalls)
}

// CloseCount returns the number of Close calls. Thread-safe.
func (r *Runner) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CloseCallCount
}

// Ensure Runner implements browser.Runner at compile time.
var _ browser.Runner = (*Runner)(nil)

// NewRunnerCall records a single invocation of Factory.NewRunner.
type NewRunnerCall struct {
	// SessionID is the session the runner was requested for.
	SessionID string
}

// Factory is a mock implementation of browser.Factory.
type Factory struct {
	mu sync.Mutex

	// Runner is returned by NewRunner. If nil, a fresh mock Runner is returned.
	Runner browser.Runner

	// NewRunnerErr, if non-nil, is returned as the error from NewRunner.
	NewRunnerErr error

	// NewRunnerCalls records every call to NewRunner.
	NewRunnerCalls []NewRunnerCall
}

// NewRunner records the call and returns the scripted runner.
func (f *Factory) NewRunner(ctx context.Context, sessionID string) (browser.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NewRunnerCalls = append(f.NewRunnerCalls, NewRunnerCall{SessionID: sessionID})
	if f.NewRunnerErr != nil {
		return nil, f.NewRunnerErr
	}
	if f.Runner != nil {
		return f.Runner, nil
	}
	return &Runner{}, nil
}

// NewRunnerCallCount returns the number of NewRunner calls. Thread-safe.
func (f *Factory) NewRunnerCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.NewRunnerCalls)
}

// Ensure Factory implements browser.Factory at compile time.
var _ browser.Factory = (*Factory)(nil)
