package admin

import (
	"encoding/json"
	"net/http"

	"github.com/fritsstegmann/fily/pkg/scrub"
)

// NewCleanupQueueStatsHandler returns GET /admin/cleanup/queue.
// Response JSON: {"len": <current queue length>}
func NewCleanupQueueStatsHandler(q scrub.CleanupQueue) http.HandlerFunc {
	type stats struct {
		Len int `json:"len"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if q == nil {
			http.Error(w, "cleanup queue not configured", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(stats{Len: q.Len()})
	}
}

// NewCleanupWorkerStatsHandler returns GET /admin/cleanup/stats.
// Response: JSON scrub.WorkerStats. 503 when worker not configured.
func NewCleanupWorkerStatsHandler(wrk *scrub.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if wrk == nil {
			http.Error(w, "cleanup worker not configured", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(wrk.Stats())
	}
}

// NewCleanupWorkerPauseHandler returns POST /admin/cleanup/pause.
// Action: pause the worker; Response: JSON scrub.WorkerStats.
func NewCleanupWorkerPauseHandler(wrk *scrub.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if wrk == nil {
			http.Error(w, "cleanup worker not configured", http.StatusServiceUnavailable)
			return
		}
		wrk.Pause()
		_ = json.NewEncoder(w).Encode(wrk.Stats())
	}
}

// NewCleanupWorkerResumeHandler returns POST /admin/cleanup/resume.
// Action: resume the worker; Response: JSON scrub.WorkerStats.
func NewCleanupWorkerResumeHandler(wrk *scrub.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if wrk == nil {
			http.Error(w, "cleanup worker not configured", http.StatusServiceUnavailable)
			return
		}
		wrk.Resume()
		_ = json.NewEncoder(w).Encode(wrk.Stats())
	}
}
