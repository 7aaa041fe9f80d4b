package scrub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerConfig configures the background cleanup worker.
type WorkerConfig struct {
	// Concurrency is the number of goroutines consuming the queue.
	// Values <= 0 default to 1.
	Concurrency int

	// Backoff applies when dequeue returns an error. <= 0 defaults to 250ms.
	Backoff time.Duration

	// PollInterval is how often a paused worker re-checks its pause flag.
	// <= 0 defaults to 200ms.
	PollInterval time.Duration
}

// WorkerStats reports worker status and counters.
type WorkerStats struct {
	Running   bool      `json:"running"`
	Paused    bool      `json:"paused"`
	Processed uint64    `json:"processed"`
	Failed    uint64    `json:"failed"`
	Inflight  int       `json:"inflight"`
	QueueLen  int       `json:"queueLen"`
	LastError string    `json:"lastError"`
	Started   time.Time `json:"started"`
	Updated   time.Time `json:"updated"`
}

// Worker consumes CleanupItems and removes the flagged files.
type Worker struct {
	q    CleanupQueue
	cfg  WorkerConfig
	wg   sync.WaitGroup
	stop context.CancelFunc

	running   atomic.Bool
	paused    atomic.Bool
	processed atomic.Uint64
	failed    atomic.Uint64
	inflight  atomic.Int32

	started time.Time

	mu        sync.Mutex
	lastErr   string
	processor func(context.Context, CleanupItem) error
}

// NewWorker constructs a cleanup worker for the given queue.
func NewWorker(q CleanupQueue, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Worker{q: q, cfg: cfg, processor: RemoveProcessor}
}

// SetProcessor overrides the default file-removal processor.
func (w *Worker) SetProcessor(p func(context.Context, CleanupItem) error) {
	if p == nil {
		p = RemoveProcessor
	}
	w.processor = p
}

// RemoveProcessor unlinks the flagged file. Already-gone files succeed:
// a concurrent DELETE or a second scrub pass may have beaten us to it.
// Only paths the scrubber can legitimately flag are removed.
func RemoveProcessor(_ context.Context, it CleanupItem) error {
	switch it.Reason {
	case ReasonOrphanSidecar:
		if !strings.HasSuffix(it.Path, ".json") {
			return fmt.Errorf("cleanup: refusing to remove non-sidecar %s", it.Path)
		}
	case ReasonStaleTemp:
		if !strings.HasSuffix(it.Path, ".tmp") {
			return fmt.Errorf("cleanup: refusing to remove non-temp %s", it.Path)
		}
	default:
		return fmt.Errorf("cleanup: unknown reason %q", it.Reason)
	}
	if err := os.Remove(it.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Start launches consumer goroutines until Stop is called or the queue
// closes.
func (w *Worker) Start(ctx context.Context) error {
	if w.running.Load() {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	w.stop = cancel
	w.started = time.Now().UTC()
	w.running.Store(true)

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	return nil
}

// Stop requests shutdown and waits for the goroutines or ctx expiry.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.running.Load() {
		return nil
	}
	if w.stop != nil {
		w.stop()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.running.Store(false)
	return nil
}

// Pause stops consumption until Resume.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume lets a paused worker continue.
func (w *Worker) Resume() { w.paused.Store(false) }

// Stats returns a snapshot of status and counters.
func (w *Worker) Stats() WorkerStats {
	st := WorkerStats{
		Running:   w.running.Load(),
		Paused:    w.paused.Load(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Inflight:  int(w.inflight.Load()),
		Started:   w.started,
		Updated:   time.Now().UTC(),
	}
	if w.q != nil {
		st.QueueLen = w.q.Len()
	}
	w.mu.Lock()
	st.LastError = w.lastErr
	w.mu.Unlock()
	return st
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if w.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		it, err := w.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.setLastErr(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffOrDefault(w.cfg.Backoff, 250*time.Millisecond)):
			}
			continue
		}

		w.inflight.Add(1)
		if perr := w.processor(ctx, it); perr != nil {
			w.failed.Add(1)
			w.setLastErr(perr)
		} else {
			w.processed.Add(1)
		}
		w.inflight.Add(-1)
	}
}

func (w *Worker) setLastErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	w.lastErr = err.Error()
	w.mu.Unlock()
}

func backoffOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
