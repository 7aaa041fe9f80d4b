package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fritsstegmann/fily/pkg/pathsec"
)

// Stats summarizes a GC pass.
type Stats struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// RunTempGC performs a best-effort sweep of abandoned temp files. It walks
// every bucket under root and removes *.tmp files whose mtime is older than
// 'olderThan'. Fresh temp files belong to in-flight PUTs and are left alone.
func RunTempGC(ctx context.Context, root string, olderThan time.Duration) (Stats, error) {
	var res Stats
	entries, err := os.ReadDir(root)
	if err != nil {
		return res, err
	}
	cutoff := time.Now().Add(-olderThan)

	for _, e := range entries {
		if !e.IsDir() || pathsec.ValidateBucketName(e.Name()) != nil {
			continue
		}
		bdir := filepath.Join(root, e.Name())
		werr := filepath.WalkDir(bdir, func(path string, d fs.DirEntry, err error) error {
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
			res.Scanned++
			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				res.Errors++
				slog.Error("admin gc: remove temp", slog.String("path", path), slog.String("error", rerr.Error()))
				return nil
			}
			res.Deleted++
			return nil
		})
		if werr != nil {
			return res, werr
		}
	}
	return res, ctx.Err()
}

// NewTempGCHandler returns POST /admin/gc/temp handler that accepts ?olderThan=1h
// and runs a single GC pass. Method must be POST; returns JSON Stats.
func NewTempGCHandler(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		olderThan := time.Hour
		if qs := r.URL.Query().Get("olderThan"); qs != "" {
			if d, err := time.ParseDuration(qs); err == nil && d > 0 {
				olderThan = d
			}
		}
		res, err := RunTempGC(r.Context(), root, olderThan)
		if err != nil {
			http.Error(w, "failed to run gc: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(res)
	}
}

// StartTempGC launches a periodic background GC that runs RunTempGC at the
// given interval. Returns a stop function to cancel the loop. If interval or
// olderThan are invalid, safe defaults are applied. Logs a summary after each
// pass.
func StartTempGC(parent context.Context, root string, interval, olderThan time.Duration, logger *slog.Logger) context.CancelFunc {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if olderThan <= 0 {
		olderThan = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := RunTempGC(context.Background(), root, olderThan)
				if err != nil {
					logger.Error("gc: temp run failed", slog.String("error", err.Error()))
					continue
				}
				logger.Info("gc: temp pass",
					slog.Int("scanned", res.Scanned),
					slog.Int("deleted", res.Deleted),
					slog.Int("errors", res.Errors),
					slog.String("olderThan", olderThan.String()),
				)
			}
		}
	}()
	return cancel
}
