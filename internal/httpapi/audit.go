package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/joshsymonds/autosort/internal/audit"
)

// handleAudit scans the tenant's recent inbox and reports the busiest
// senders with rule coverage. `window` is a Go duration (default 168h),
// `top` caps the sender list.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	opts := audit.Options{}
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		opts.Window = d
	}
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		opts.TopN = n
	}

	client, err := s.Connect.Open(r.Context(), t)
	if err != nil {
		s.Log.Error("open mailbox", "tenant", t, "error", err)
		s.respondError(w, http.StatusBadGateway, "mailbox unavailable")
		return
	}
	report, err := s.Audit.Run(r.Context(), client, t, opts)
	if err != nil {
		s.Log.Error("run audit", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "run audit")
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}
