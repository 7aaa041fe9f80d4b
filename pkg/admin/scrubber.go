// Package admin exposes operational HTTP handlers: scrubber control,
// cleanup worker control, temp-file GC, health and version. The handlers
// are plain http.HandlerFunc values so the caller decides the mux and the
// auth wrapping.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/fritsstegmann/fily/pkg/scrub"
)

// NewScrubberStatsHandler returns GET /admin/scrub/stats handler.
// It responds with the current scrubber stats in JSON.
func NewScrubberStatsHandler(scr scrub.Scrubber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if scr == nil {
			_ = json.NewEncoder(w).Encode(scrub.Stats{})
			return
		}
		_ = json.NewEncoder(w).Encode(scr.Stats())
	}
}

// NewScrubberRunHandler returns POST /admin/scrub/run handler.
// It triggers a single synchronous scrub pass and returns updated stats.
func NewScrubberRunHandler(scr scrub.Scrubber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if scr == nil {
			http.Error(w, "scrubber not configured", http.StatusServiceUnavailable)
			return
		}
		if err := scr.RunOnce(r.Context()); err != nil {
			http.Error(w, "scrub run failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(scr.Stats())
	}
}
