package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrBridgeTimeout is returned by Do when the job does not complete within
	// the caller's timeout. The job itself keeps running to completion.
	ErrBridgeTimeout = errors.New("conversation: bridge job timed out")

	// ErrBridgeClosed is returned by Do after Close.
	ErrBridgeClosed = errors.New("conversation: bridge is closed")
)

// bridgeJob pairs a unit of work with the channel its result is reported on.
type bridgeJob struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Bridge hands work from the recognition worker goroutine to the connection's
// writer goroutine. All jobs for one session execute serially in submission
// order, which is what guarantees that a turn's notifications reach the client
// in order and that socket writes never interleave.
//
// Do blocks the submitting goroutine until the job finishes or the timeout
// expires. On timeout the job is not cancelled; it runs to completion on the
// writer goroutine and only the submitter stops waiting.
type Bridge struct {
	jobs   chan bridgeJob
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBridge creates a bridge with a small submission buffer. Call Run on the
// goroutine that owns the connection writes, then submit work with Do.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		jobs:   make(chan bridgeJob, 16),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Run executes submitted jobs serially until ctx is cancelled or Close is
// called. It must run on exactly one goroutine.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case job := <-b.jobs:
			job.done <- job.fn(ctx)
		case <-b.closed:
			b.drainJobs()
			return
		case <-ctx.Done():
			b.Close()
			b.drainJobs()
			return
		}
	}
}

// drainJobs fails any jobs submitted concurrently with shutdown.
func (b *Bridge) drainJobs() {
	dropped := 0
	for {
		select {
		case job := <-b.jobs:
			job.done <- ErrBridgeClosed
			dropped++
		default:
			if dropped > 0 {
				b.logger.Debug("bridge dropped queued jobs on close", "count", dropped)
			}
			return
		}
	}
}

// Do submits fn for execution on the writer goroutine and waits up to timeout
// for it to finish. Returns fn's error, ErrBridgeTimeout if the wait expired,
// or ErrBridgeClosed if the bridge shut down first.
func (b *Bridge) Do(timeout time.Duration, fn func(ctx context.Context) error) error {
	job := bridgeJob{fn: fn, done: make(chan error, 1)}

	select {
	case b.jobs <- job:
	case <-b.closed:
		return ErrBridgeClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-job.done:
		return err
	case <-timer.C:
		return ErrBridgeTimeout
	case <-b.closed:
		return ErrBridgeClosed
	}
}

// Close stops the bridge. Jobs already submitted may still complete; later Do
// calls return ErrBridgeClosed. Safe to call more than once.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
