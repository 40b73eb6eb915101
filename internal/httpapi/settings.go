package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/store"
)

type apiSettings struct {
	BlackholeEnabled    bool   `json:"blackhole_enabled"`
	BlackholeDeleteDays int    `json:"blackhole_delete_days"`
	BlackholeLabelID    string `json:"blackhole_label_id,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	settings, err := s.Store.GetSettings(r.Context(), t)
	if err != nil {
		s.Log.Error("get settings", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "get settings")
		return
	}
	s.respondJSON(w, http.StatusOK, apiSettings{
		BlackholeEnabled:    settings.BlackholeEnabled,
		BlackholeDeleteDays: settings.BlackholeDeleteDays,
		BlackholeLabelID:    string(settings.BlackholeLabelID),
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	var req struct {
		BlackholeEnabled    *bool `json:"blackhole_enabled"`
		BlackholeDeleteDays *int  `json:"blackhole_delete_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed settings")
		return
	}
	if req.BlackholeDeleteDays != nil && *req.BlackholeDeleteDays <= 0 {
		s.respondError(w, http.StatusBadRequest, "blackhole_delete_days must be positive")
		return
	}
	settings, err := s.Store.UpdateSettings(r.Context(), t, store.SettingsUpdate{
		BlackholeEnabled:    req.BlackholeEnabled,
		BlackholeDeleteDays: req.BlackholeDeleteDays,
	})
	if err != nil {
		s.Log.Error("update settings", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "update settings")
		return
	}
	s.respondJSON(w, http.StatusOK, apiSettings{
		BlackholeEnabled:    settings.BlackholeEnabled,
		BlackholeDeleteDays: settings.BlackholeDeleteDays,
		BlackholeLabelID:    string(settings.BlackholeLabelID),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	stats, err := s.Store.GetStats(r.Context(), t)
	if err != nil {
		s.Log.Error("get stats", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "get stats")
		return
	}
	watchExp, err := s.Store.GetWatchExpiration(r.Context(), t)
	if err != nil {
		s.Log.Warn("get watch expiration", "tenant", t, "error", err)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"emails_processed":  stats.EmailsProcessed,
		"rules_count":       stats.RulesCount,
		"last_processed_at": nullableTime(stats.LastProcessedAt),
		"watch_expiration":  nullableTime(watchExp),
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	watched, err := s.Watcher.Start(r.Context(), t)
	if err != nil {
		s.Log.Error("start watch", "tenant", t, "error", err)
		s.respondError(w, http.StatusBadGateway, "start watch")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"history_id": watched.HistoryID.String(),
		"expiration": watched.Expiration,
	})
}

func (s *Server) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	if err := s.Watcher.Stop(r.Context(), t); err != nil {
		s.Log.Error("stop watch", "tenant", t, "error", err)
		s.respondError(w, http.StatusBadGateway, "stop watch")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInternalSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Sweeper.RunAll(r.Context())
	if err != nil {
		s.Log.Error("run sweep", "error", err)
		s.respondError(w, http.StatusInternalServerError, "run sweep")
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleInternalRenewAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Watcher.RenewAll(r.Context())
	if err != nil {
		s.Log.Error("renew watches", "error", err)
		s.respondError(w, http.StatusInternalServerError, "renew watches")
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleInternalNudge re-queues processing for every tenant from the
// stored cursors; a scheduled safety net for dropped notifications.
func (s *Server) handleInternalNudge(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.Store.ListTenants(r.Context())
	if err != nil {
		s.Log.Error("list tenants", "error", err)
		s.respondError(w, http.StatusInternalServerError, "list tenants")
		return
	}
	for _, t := range tenants {
		s.Dispatch.Notify(t, gmail.HistoryID(0))
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"nudged": len(tenants)})
}
