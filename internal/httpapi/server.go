// Package httpapi is the HTTP surface: the push-notification webhook,
// the tenant-facing v1 API, the internal batch endpoints, and the
// health and metrics probes.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshsymonds/autosort/internal/audit"
	"github.com/joshsymonds/autosort/internal/auth"
	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/store"
	"github.com/joshsymonds/autosort/internal/sweep"
	"github.com/joshsymonds/autosort/internal/watch"
)

// Dispatcher accepts change notifications for background processing.
type Dispatcher interface {
	Notify(tenant string, hint gmail.HistoryID)
}

// Server holds the API's collaborators. Construct it, then mount
// Router on an http.Server.
type Server struct {
	Store    store.Store
	Connect  gmail.Connector
	Log      *slog.Logger
	Metrics  *metrics.Set
	Auth     *auth.Verifier
	Dispatch Dispatcher
	Sweeper  *sweep.Service
	Watcher  *watch.Service
	Audit    *audit.Service
	Registry *prometheus.Registry

	// Prefix is the managed-folder marker enforced on folder creation.
	Prefix string
}

// NewServer fills defaults the handlers rely on.
func NewServer(s Server) *Server {
	if s.Log == nil {
		s.Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if s.Prefix == "" {
		s.Prefix = "@"
	}
	return &s
}

type ctxKey int

const tenantKey ctxKey = 0

// tenant returns the authenticated tenant for the request.
func tenant(r *http.Request) string {
	t, _ := r.Context().Value(tenantKey).(string)
	return t
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/webhooks/gmail", s.handleWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/folders", s.handleListFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", s.handleCreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/{id}", s.handleDeleteFolder).Methods(http.MethodDelete)
	api.HandleFunc("/folders/{id}/settings", s.handleGetFolderSettings).Methods(http.MethodGet)
	api.HandleFunc("/folders/{id}/settings", s.handlePutFolderSettings).Methods(http.MethodPut)

	api.HandleFunc("/autolearn", s.handleListAutoLearn).Methods(http.MethodGet)
	api.HandleFunc("/autolearn", s.handlePutAutoLearn).Methods(http.MethodPost)
	api.HandleFunc("/autolearn/{id}", s.handleDeleteAutoLearn).Methods(http.MethodDelete)

	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPatch)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/watch", s.handleStartWatch).Methods(http.MethodPost)
	api.HandleFunc("/watch", s.handleStopWatch).Methods(http.MethodDelete)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(s.requireAuth)
	internal.HandleFunc("/sweep", s.handleInternalSweep).Methods(http.MethodPost)
	internal.HandleFunc("/watch/renew-all", s.handleInternalRenewAll).Methods(http.MethodPost)
	internal.HandleFunc("/nudge", s.handleInternalNudge).Methods(http.MethodPost)

	return r
}

// requireAuth verifies the bearer token and stashes the tenant subject
// on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := s.Auth.Verify(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records request duration per route and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.Metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
