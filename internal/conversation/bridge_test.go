package conversation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func newRunningBridge(t *testing.T) *Bridge {
	t.Helper()
	b := NewBridge(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		b.Close()
		<-done
	})
	return b
}

func TestBridge_Do_RunsJob(t *testing.T) {
	t.Parallel()

	b := newRunningBridge(t)
	ran := false
	err := b.Do(time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Error("job did not run")
	}
}

func TestBridge_Do_PropagatesJobError(t *testing.T) {
	t.Parallel()

	b := newRunningBridge(t)
	want := errors.New("send failed")
	err := b.Do(time.Second, func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Do = %v, want %v", err, want)
	}
}

func TestBridge_Do_TimeoutDoesNotCancelJob(t *testing.T) {
	t.Parallel()

	b := newRunningBridge(t)
	finished := make(chan struct{})
	err := b.Do(20*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(80 * time.Millisecond)
		close(finished)
		return nil
	})
	if !errors.Is(err, ErrBridgeTimeout) {
		t.Fatalf("Do = %v, want ErrBridgeTimeout", err)
	}

	// The job must still run to completion after the caller gave up.
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("job did not finish after caller timeout")
	}
}

func TestBridge_Do_SerialisesJobs(t *testing.T) {
	t.Parallel()

	b := newRunningBridge(t)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// A slow job submitted first must complete before faster jobs submitted
	// after it, even though the submitters run concurrently.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(time.Second, func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // let job 1 get submitted first
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(time.Second, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("jobs ran in order %v, want [1 2]", order)
	}
}

func TestBridge_Do_AfterClose(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	go b.Run(context.Background())
	b.Close()

	err := b.Do(time.Second, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("Do after Close = %v, want ErrBridgeClosed", err)
	}
}

func TestBridge_DrainFailsAndLogsQueuedJobs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := NewBridge(logger)

	// A job still queued when the bridge shuts down must be failed with
	// ErrBridgeClosed, and the drop must be visible in the logs.
	job := bridgeJob{fn: func(ctx context.Context) error { return nil }, done: make(chan error, 1)}
	b.jobs <- job
	b.drainJobs()

	if err := <-job.done; !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("drained job error = %v, want ErrBridgeClosed", err)
	}
	if !strings.Contains(buf.String(), "bridge dropped queued jobs on close") {
		t.Errorf("drain was not logged, got: %s", buf.String())
	}
}

func TestBridge_Close_Idempotent(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	b.Close()
	b.Close() // must not panic
}

func TestBridge_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	b := NewBridge(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
