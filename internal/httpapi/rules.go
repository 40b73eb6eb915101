package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/rules"
	"github.com/joshsymonds/autosort/internal/store"
)

// apiRule is the wire form of a sorting rule.
type apiRule struct {
	ID              string    `json:"id"`
	Pattern         string    `json:"pattern"`
	Match           string    `json:"match"`
	Action          string    `json:"action"`
	DestinationID   string    `json:"destination_id,omitempty"`
	DestinationName string    `json:"destination_name,omitempty"`
	MarkRead        bool      `json:"mark_read"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	TimesApplied    int64     `json:"times_applied"`
}

func toAPIRule(r rules.Rule) apiRule {
	return apiRule{
		ID:              r.ID,
		Pattern:         r.Pattern,
		Match:           string(r.Match),
		Action:          string(r.Action),
		DestinationID:   string(r.DestinationID),
		DestinationName: r.DestinationName,
		MarkRead:        r.MarkRead,
		Enabled:         r.Enabled,
		CreatedAt:       r.CreatedAt,
		TimesApplied:    r.TimesApplied,
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	all, err := s.Store.ListRules(ctx, t)
	if err != nil {
		s.Log.Error("list rules", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "list rules")
		return
	}
	all = s.refreshDestinationNames(r, t, all)

	out := make([]apiRule, 0, len(all))
	for _, rule := range all {
		out = append(out, toAPIRule(rule))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"rules": out})
}

// refreshDestinationNames reconciles stored destination names with the
// labels as they exist now; folders renamed in the mail client keep
// rules readable. Best effort: when the mailbox is unreachable the
// stored names are served as-is.
func (s *Server) refreshDestinationNames(r *http.Request, t string, all []rules.Rule) []rules.Rule {
	ctx := r.Context()
	client, err := s.Connect.Open(ctx, t)
	if err != nil {
		return all
	}
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return all
	}
	names := make(map[gmail.LabelID]string, len(labels))
	for _, l := range labels {
		names[l.ID] = l.Name
	}
	for i, rule := range all {
		current, ok := names[rule.DestinationID]
		if rule.DestinationID == "" || !ok || current == rule.DestinationName {
			continue
		}
		updated, err := s.Store.UpdateRule(ctx, t, rule.ID, store.RuleUpdate{DestinationName: &current})
		if err != nil {
			s.Log.Warn("refresh rule destination name", "tenant", t, "rule", rule.ID, "error", err)
			continue
		}
		all[i] = updated
	}
	return all
}

type ruleRequest struct {
	Pattern         string `json:"pattern"`
	Match           string `json:"match"`
	Action          string `json:"action"`
	DestinationID   string `json:"destination_id"`
	DestinationName string `json:"destination_name"`
	MarkRead        bool   `json:"mark_read"`
	Enabled         *bool  `json:"enabled"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed rule")
		return
	}
	rule := rules.Rule{
		ID:              rules.NewID(),
		Pattern:         req.Pattern,
		Match:           rules.MatchType(req.Match),
		Action:          rules.Action(req.Action),
		DestinationID:   gmail.LabelID(req.DestinationID),
		DestinationName: req.DestinationName,
		MarkRead:        req.MarkRead,
		Enabled:         true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.Normalize(time.Now())
	if err := rule.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Store.PutRule(ctx, t, rule); err != nil {
		s.Log.Error("create rule", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "create rule")
		return
	}
	s.respondJSON(w, http.StatusCreated, toAPIRule(rule))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	rule, err := s.Store.GetRule(r.Context(), t, mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no such rule")
		return
	}
	if err != nil {
		s.Log.Error("get rule", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "get rule")
		return
	}
	s.respondJSON(w, http.StatusOK, toAPIRule(rule))
}

type ruleUpdateRequest struct {
	Pattern         *string `json:"pattern"`
	Match           *string `json:"match"`
	Action          *string `json:"action"`
	DestinationID   *string `json:"destination_id"`
	DestinationName *string `json:"destination_name"`
	Enabled         *bool   `json:"enabled"`
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	var req ruleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed rule update")
		return
	}
	upd := store.RuleUpdate{
		Pattern:         req.Pattern,
		DestinationName: req.DestinationName,
		Enabled:         req.Enabled,
	}
	if req.Match != nil {
		m := rules.MatchType(*req.Match)
		upd.Match = &m
	}
	if req.Action != nil {
		a := rules.Action(*req.Action)
		upd.Action = &a
	}
	if req.DestinationID != nil {
		d := gmail.LabelID(*req.DestinationID)
		upd.DestinationID = &d
	}

	id := mux.Vars(r)["id"]
	existing, err := s.Store.GetRule(ctx, t, id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no such rule")
		return
	}
	if err != nil {
		s.Log.Error("update rule", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "update rule")
		return
	}
	// Validate the would-be result before touching the store.
	candidate := applyRuleUpdate(existing, upd)
	candidate.Normalize(time.Now())
	if err := candidate.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := s.Store.UpdateRule(ctx, t, id, upd)
	if err != nil {
		s.Log.Error("update rule", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "update rule")
		return
	}
	s.respondJSON(w, http.StatusOK, toAPIRule(rule))
}

func applyRuleUpdate(r rules.Rule, upd store.RuleUpdate) rules.Rule {
	if upd.Pattern != nil {
		r.Pattern = *upd.Pattern
	}
	if upd.Match != nil {
		r.Match = *upd.Match
	}
	if upd.Action != nil {
		r.Action = *upd.Action
	}
	if upd.DestinationID != nil {
		r.DestinationID = *upd.DestinationID
	}
	if upd.DestinationName != nil {
		r.DestinationName = *upd.DestinationName
	}
	if upd.Enabled != nil {
		r.Enabled = *upd.Enabled
	}
	return r
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	err := s.Store.DeleteRule(r.Context(), t, mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no such rule")
		return
	}
	if err != nil {
		s.Log.Error("delete rule", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
