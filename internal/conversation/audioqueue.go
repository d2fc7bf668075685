package conversation

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueTimeout is returned by PopWait when no chunk arrives in time.
	ErrQueueTimeout = errors.New("conversation: audio queue wait timed out")

	// ErrQueueDone is returned by PopWait once the end-of-audio sentinel has
	// been consumed.
	ErrQueueDone = errors.New("conversation: audio queue is done")
)

// AudioQueue is an unbounded FIFO of raw audio chunks with a single consumer
// (the recognition worker) and one or more producers (the ingestion loop).
//
// A nil entry is the end-of-audio sentinel: once the consumer pops it, every
// further PopWait returns ErrQueueDone.
type AudioQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	done   bool

	// notify carries one token per enqueued entry so the consumer can block
	// without polling.
	notify chan struct{}
}

// NewAudioQueue creates an empty queue.
func NewAudioQueue() *AudioQueue {
	return &AudioQueue{
		notify: make(chan struct{}, 1024),
	}
}

// Push appends an audio chunk. Empty chunks are ignored.
func (q *AudioQueue) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()
	q.wake()
}

// PushSentinel appends the end-of-audio marker. Safe to call more than once.
func (q *AudioQueue) PushSentinel() {
	q.mu.Lock()
	q.chunks = append(q.chunks, nil)
	q.mu.Unlock()
	q.wake()
}

// Requeue puts a chunk back at the front of the queue, ahead of anything
// enqueued since it was popped. Used when the consumer pops a chunk only to
// decide the stream must be (re)started first.
func (q *AudioQueue) Requeue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.chunks = append([][]byte{chunk}, q.chunks...)
	q.mu.Unlock()
	q.wake()
}

func (q *AudioQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
		// The consumer rescans the slice on every wakeup, so a dropped token
		// when the buffer is full cannot strand a chunk.
	}
}

// PopWait removes and returns the oldest chunk, blocking up to timeout for one
// to arrive. It returns ErrQueueDone after the sentinel has been consumed and
// ErrQueueTimeout if the wait expires.
func (q *AudioQueue) PopWait(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.done {
			q.mu.Unlock()
			return nil, ErrQueueDone
		}
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks = q.chunks[1:]
			if chunk == nil {
				q.done = true
				q.mu.Unlock()
				return nil, ErrQueueDone
			}
			q.mu.Unlock()
			return chunk, nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil, ErrQueueTimeout
		}
	}
}

// Drain discards all queued chunks (sentinels included) and returns how many
// entries were dropped. The done state is preserved.
func (q *AudioQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.chunks)
	for _, c := range q.chunks {
		if c == nil {
			q.done = true
		}
	}
	q.chunks = nil
	return n
}

// Len returns the number of queued entries.
func (q *AudioQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
