// Package browser defines the boundary to the browser automation sidecar that
// executes mailbox tasks ("open my inbox", "archive the first email") on the
// user's behalf.
//
// A Runner is a long-lived resource: it holds an authenticated browser profile
// and is reused across every turn of a session, so the user stays logged in
// between commands. The conversation store owns the Runner's lifecycle and
// closes it when the session is destroyed.
package browser

import (
	"context"
	"io"
)

// Runner executes one natural-language task in the session's browser and
// returns a human-readable result summary.
//
// Implementations must be safe for sequential reuse; the conversation layer
// never runs two tasks on the same Runner concurrently.
type Runner interface {
	// Run performs the task and returns what happened, phrased for the user.
	Run(ctx context.Context, task string) (string, error)

	io.Closer
}

// Factory creates a Runner for a session on first use.
type Factory interface {
	// NewRunner opens a fresh browser context for the session.
	NewRunner(ctx context.Context, sessionID string) (Runner, error)
}
