// Package scrub keeps the on-disk tree healthy: a background scrubber
// verifies sidecar records and flags debris (orphaned sidecars, stale
// temp files), and a cleanup worker consumes the flagged items.
package scrub

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Reasons attached to cleanup items.
const (
	ReasonOrphanSidecar = "orphan_sidecar"
	ReasonStaleTemp     = "stale_temp"
)

// CleanupItem describes one piece of debris found by the scrubber.
type CleanupItem struct {
	Bucket     string
	Key        string
	Path       string // absolute path of the file to remove
	Reason     string
	Discovered time.Time
}

// CleanupQueue hands scrubber findings to the worker.
// Implementations MUST be concurrency-safe.
type CleanupQueue interface {
	// Enqueue adds an item; returns ctx.Err() on cancellation.
	Enqueue(ctx context.Context, it CleanupItem) error
	// Dequeue blocks until an item is available or the queue is closed.
	Dequeue(ctx context.Context) (CleanupItem, error)
	// Len returns a best-effort count of queued items.
	Len() int
	// Close closes the queue for new items and wakes blocked Dequeue calls.
	Close() error
}

// ErrQueueClosed is returned for operations on a closed queue.
var ErrQueueClosed = errors.New("cleanupqueue: closed")

// MemQueue is a bounded in-memory CleanupQueue. The item channel is never
// closed; Close signals a separate done channel instead, so a producer
// racing Close can never panic on a send to a closed channel. Items
// accepted before the close stay drainable.
type MemQueue struct {
	ch   chan CleanupItem
	done chan struct{}
	once sync.Once
}

// NewMemQueue creates a MemQueue. capacity <= 0 makes it unbuffered.
func NewMemQueue(capacity int) *MemQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &MemQueue{
		ch:   make(chan CleanupItem, capacity),
		done: make(chan struct{}),
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, it CleanupItem) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- it:
		return nil
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (CleanupItem, error) {
	select {
	case <-ctx.Done():
		return CleanupItem{}, ctx.Err()
	case it := <-q.ch:
		return it, nil
	case <-q.done:
		// Drain whatever was accepted before the close.
		select {
		case it := <-q.ch:
			return it, nil
		default:
			return CleanupItem{}, ErrQueueClosed
		}
	}
}

func (q *MemQueue) Len() int { return len(q.ch) }

func (q *MemQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
