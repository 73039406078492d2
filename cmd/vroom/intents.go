package main

import (
	"context"
	"sync/atomic"
)

// IntentQueue is the bounded hand-off between edge handlers and the worker.
//
// TryPush never blocks: when the buffer is full the intent is dropped and
// counted. Edge handlers run on pin goroutines that must return to
// WaitForEdge promptly, so they must never wait on the worker.
type IntentQueue struct {
	ch chan Intent

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// QueueStats is a point-in-time copy of the queue counters.
type QueueStats struct {
	Pushed  uint64
	Dropped uint64
	Len     int
	Cap     int
}

// NewIntentQueue returns a queue holding at most size intents.
func NewIntentQueue(size int) *IntentQueue {
	if size <= 0 {
		size = defaultIntentQueueSize
	}
	return &IntentQueue{ch: make(chan Intent, size)}
}

// TryPush enqueues in without blocking. It reports whether in was accepted.
func (q *IntentQueue) TryPush(in Intent) bool {
	select {
	case q.ch <- in:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until an intent is available or ctx is done.
func (q *IntentQueue) Pop(ctx context.Context) (Intent, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case in := <-q.ch:
		return in, true
	}
}

// C exposes the receive side for select loops.
func (q *IntentQueue) C() <-chan Intent { return q.ch }

// Stats returns the current counters.
func (q *IntentQueue) Stats() QueueStats {
	return QueueStats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Len:     len(q.ch),
		Cap:     cap(q.ch),
	}
}
