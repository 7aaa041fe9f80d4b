package scrub

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fritsstegmann/fily/pkg/metadata"
	"github.com/fritsstegmann/fily/pkg/pathsec"
)

// Stats captures scrubber activity.
type Stats struct {
	Scanned   uint64        `json:"scanned"` // sidecars examined since start
	Flagged   uint64        `json:"flagged"` // items handed to the cleanup queue
	Errors    uint64        `json:"errors"`  // corrupt sidecars, hash mismatches, IO errors
	LastRun   time.Time     `json:"lastRun"`
	LastError string        `json:"lastError"`
	Uptime    time.Duration `json:"uptime"`
}

// Config configures the sidecar scrubber.
type Config struct {
	// Interval is the cadence of background passes. <= 0 defaults to 1h.
	Interval time.Duration
	// Concurrency is the number of buckets scrubbed in parallel.
	// <= 0 defaults to 1.
	Concurrency int
	// VerifyETag recomputes MD5 over plaintext payloads and compares it
	// against the sidecar ETag. Encrypted payloads are skipped; their
	// AEAD tag is checked on every read anyway.
	VerifyETag bool
	// TempMaxAge is how old a .tmp file must be before it counts as
	// stale. <= 0 defaults to 1h.
	TempMaxAge time.Duration
}

// Scrubber is the background integrity checker.
// Implementations MUST be concurrency-safe.
type Scrubber interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// RunOnce performs a single full pass synchronously.
	RunOnce(ctx context.Context) error
	Stats() Stats
}

// SidecarScrubber walks every bucket under the storage root, verifies
// that each sidecar parses and points at an existing payload, and flags
// orphaned sidecars and stale temp files for cleanup. It never deletes
// anything itself; that is the worker's job.
type SidecarScrubber struct {
	cfg   Config
	root  string
	queue CleanupQueue

	mu      sync.RWMutex
	start   time.Time
	running atomic.Bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	scanned   atomic.Uint64
	flagged   atomic.Uint64
	errs      atomic.Uint64
	lastRun   atomic.Pointer[time.Time]
	lastError atomic.Pointer[string]
}

// NewSidecarScrubber creates a scrubber over the storage root. Findings
// go to queue.
func NewSidecarScrubber(root string, queue CleanupQueue, cfg Config) *SidecarScrubber {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	return &SidecarScrubber{
		cfg:    cfg,
		root:   root,
		queue:  queue,
		doneCh: make(chan struct{}),
	}
}

func (s *SidecarScrubber) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scrubber: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.start = time.Now()
	s.cancel = cancel
	s.mu.Unlock()
	go s.loop(ctx)
	return nil
}

func (s *SidecarScrubber) loop(ctx context.Context) {
	defer func() {
		s.running.Store(false)
		close(s.doneCh)
	}()
	_ = s.doRunOnce(ctx)
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.doRunOnce(ctx)
			t.Reset(s.cfg.Interval)
		}
	}
}

// Stop cancels the scrub loop, aborting a pass in flight, and waits for it
// to wind down or ctx to expire.
func (s *SidecarScrubber) Stop(ctx context.Context) error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SidecarScrubber) RunOnce(ctx context.Context) error {
	return s.doRunOnce(ctx)
}

func (s *SidecarScrubber) doRunOnce(ctx context.Context) error {
	err := s.scanAll(ctx)
	now := time.Now()
	s.lastRun.Store(&now)
	if err != nil {
		msg := err.Error()
		s.lastError.Store(&msg)
	}
	return err
}

func (s *SidecarScrubber) Stats() Stats {
	var lastRun time.Time
	if p := s.lastRun.Load(); p != nil {
		lastRun = *p
	}
	var lastErr string
	if e := s.lastError.Load(); e != nil {
		lastErr = *e
	}
	s.mu.RLock()
	start := s.start
	s.mu.RUnlock()
	return Stats{
		Scanned:   s.scanned.Load(),
		Flagged:   s.flagged.Load(),
		Errors:    s.errs.Load(),
		LastRun:   lastRun,
		LastError: lastErr,
		Uptime:    sinceIfSet(start),
	}
}

func sinceIfSet(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}

// scanAll fans buckets out to Concurrency workers.
func (s *SidecarScrubber) scanAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	jobs := make(chan string, len(entries))
	for _, e := range entries {
		if e.IsDir() && pathsec.ValidateBucketName(e.Name()) == nil {
			jobs <- e.Name()
		}
	}
	close(jobs)

	var wg sync.WaitGroup
	var firstErr atomic.Pointer[error]
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for bucket := range jobs {
				if ctx.Err() != nil {
					return
				}
				if err := s.scanBucket(ctx, bucket); err != nil {
					firstErr.CompareAndSwap(nil, &err)
				}
			}
		}()
	}
	wg.Wait()

	if p := firstErr.Load(); p != nil {
		return *p
	}
	return ctx.Err()
}

func (s *SidecarScrubber) scanBucket(ctx context.Context, bucket string) error {
	if err := s.scanSidecars(ctx, bucket); err != nil {
		return err
	}
	return s.scanTempFiles(ctx, bucket)
}

func (s *SidecarScrubber) scanSidecars(ctx context.Context, bucket string) error {
	mdir := filepath.Join(s.root, bucket, pathsec.MetadataDirName)
	entries, err := os.ReadDir(mdir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s.scanned.Add(1)
		sidecarPath := filepath.Join(mdir, name)

		key, err := pathsec.DecodeMetaName(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.errs.Add(1)
			continue
		}
		payloadPath, err := pathsec.SafePath(s.root, bucket, key)
		if err != nil {
			s.errs.Add(1)
			continue
		}

		var meta metadata.ObjectMetadata
		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			s.errs.Add(1)
			continue
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			// Corrupt sidecars are reported, never auto-deleted: the
			// payload may still be recoverable by hand.
			s.errs.Add(1)
			continue
		}

		if _, err := os.Stat(payloadPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.flagged.Add(1)
				if qerr := s.queue.Enqueue(ctx, CleanupItem{
					Bucket:     bucket,
					Key:        key,
					Path:       sidecarPath,
					Reason:     ReasonOrphanSidecar,
					Discovered: time.Now().UTC(),
				}); qerr != nil {
					return qerr
				}
			} else {
				s.errs.Add(1)
			}
			continue
		}

		if s.cfg.VerifyETag && !meta.Encrypted {
			if err := s.verifyETag(payloadPath, meta.ETag); err != nil {
				s.errs.Add(1)
			}
		}
	}
	return nil
}

func (s *SidecarScrubber) verifyETag(payloadPath, want string) error {
	data, err := os.ReadFile(payloadPath)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	if hex.EncodeToString(sum[:]) != want {
		return fmt.Errorf("scrubber: etag mismatch for %s", payloadPath)
	}
	return nil
}

// scanTempFiles flags .tmp files older than TempMaxAge anywhere in the
// bucket, including the metadata directory.
func (s *SidecarScrubber) scanTempFiles(ctx context.Context, bucket string) error {
	cutoff := time.Now().Add(-s.cfg.TempMaxAge)
	bdir := filepath.Join(s.root, bucket)
	return filepath.WalkDir(bdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		s.flagged.Add(1)
		return s.queue.Enqueue(ctx, CleanupItem{
			Bucket:     bucket,
			Path:       path,
			Reason:     ReasonStaleTemp,
			Discovered: time.Now().UTC(),
		})
	})
}
