package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/store"
)

type apiFolder struct {
	LabelID         string `json:"label_id"`
	LabelName       string `json:"label_name"`
	DestinationID   string `json:"destination_id,omitempty"`
	DestinationName string `json:"destination_name,omitempty"`
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	folders, err := s.Store.ListMagicFolders(r.Context(), t)
	if err != nil {
		s.Log.Error("list folders", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "list folders")
		return
	}
	out := make([]apiFolder, 0, len(folders))
	for _, f := range folders {
		out = append(out, apiFolder{
			LabelID:         string(f.LabelID),
			LabelName:       f.LabelName,
			DestinationID:   string(f.DestinationID),
			DestinationName: f.DestinationName,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"folders": out})
}

// handleCreateFolder creates the mailbox label and registers it as a
// managed folder. The managed prefix is enforced here so every folder
// the system owns is visibly marked in the mail client.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed folder")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || name == s.Prefix {
		s.respondError(w, http.StatusBadRequest, "folder name required")
		return
	}
	if !strings.HasPrefix(name, s.Prefix) {
		name = s.Prefix + name
	}
	// Folder names end up quoted inside retention search queries.
	if strings.ContainsAny(name, `"\`) {
		s.respondError(w, http.StatusBadRequest, "folder name must not contain quotes or backslashes")
		return
	}

	client, err := s.Connect.Open(ctx, t)
	if err != nil {
		s.Log.Error("open mailbox", "tenant", t, "error", err)
		s.respondError(w, http.StatusBadGateway, "mailbox unavailable")
		return
	}
	label, err := client.CreateLabel(ctx, name)
	if err != nil {
		s.Log.Error("create label", "tenant", t, "folder", name, "error", err)
		s.respondError(w, http.StatusBadGateway, "create folder label")
		return
	}
	folder := store.MagicFolder{LabelID: label.ID, LabelName: label.Name}
	if err := s.Store.PutMagicFolder(ctx, t, folder); err != nil {
		s.Log.Error("store folder", "tenant", t, "folder", name, "error", err)
		s.respondError(w, http.StatusInternalServerError, "store folder")
		return
	}
	s.Log.Info("folder created", "tenant", t, "folder", label.Name, "label", label.ID)
	s.respondJSON(w, http.StatusCreated, apiFolder{
		LabelID:   string(label.ID),
		LabelName: label.Name,
	})
}

// handleDeleteFolder unregisters a managed folder and cascades: rules
// targeting it and its retention settings go too, then the mailbox
// label itself (best effort; it may already be gone).
func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	id := gmail.LabelID(mux.Vars(r)["id"])

	if err := s.Store.DeleteMagicFolder(ctx, t, id); errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no such folder")
		return
	} else if err != nil {
		s.Log.Error("delete folder", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "delete folder")
		return
	}
	removed, err := s.Store.DeleteRulesByDestination(ctx, t, id)
	if err != nil {
		s.Log.Error("cascade rules", "tenant", t, "folder", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "cascade rules")
		return
	}
	if err := s.Store.DeleteFolderSettings(ctx, t, id); err != nil {
		s.Log.Warn("cascade folder settings", "tenant", t, "folder", id, "error", err)
	}
	if client, err := s.Connect.Open(ctx, t); err == nil {
		if err := client.DeleteLabel(ctx, id); err != nil && !errors.Is(err, gmail.ErrNotFound) {
			s.Log.Warn("delete mailbox label", "tenant", t, "folder", id, "error", err)
		}
	}
	s.Log.Info("folder deleted", "tenant", t, "folder", id, "cascaded_rules", removed)
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted_rules": removed})
}

type apiFolderSettings struct {
	LabelID              string `json:"label_id"`
	LabelName            string `json:"label_name,omitempty"`
	ArchiveReadEnabled   bool   `json:"archive_read_enabled"`
	ArchiveUnreadEnabled bool   `json:"archive_unread_enabled"`
	ArchiveUnreadValue   int    `json:"archive_unread_value"`
	ArchiveUnreadUnit    string `json:"archive_unread_unit"`
}

func (s *Server) handleGetFolderSettings(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	id := gmail.LabelID(mux.Vars(r)["id"])
	cfg, err := s.Store.GetFolderSettings(r.Context(), t, id)
	if err != nil {
		s.Log.Error("get folder settings", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "get folder settings")
		return
	}
	s.respondJSON(w, http.StatusOK, apiFolderSettings{
		LabelID:              string(cfg.LabelID),
		LabelName:            cfg.LabelName,
		ArchiveReadEnabled:   cfg.ArchiveReadEnabled,
		ArchiveUnreadEnabled: cfg.ArchiveUnreadEnabled,
		ArchiveUnreadValue:   cfg.ArchiveUnreadValue,
		ArchiveUnreadUnit:    string(cfg.ArchiveUnreadUnit),
	})
}

func (s *Server) handlePutFolderSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := tenant(r)
	id := gmail.LabelID(mux.Vars(r)["id"])
	var req apiFolderSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed folder settings")
		return
	}
	unit := store.TimeUnit(req.ArchiveUnreadUnit)
	if unit == "" {
		unit = store.UnitDays
	}
	if unit != store.UnitHours && unit != store.UnitDays {
		s.respondError(w, http.StatusBadRequest, "archive_unread_unit must be hours or days")
		return
	}
	if req.ArchiveUnreadEnabled && req.ArchiveUnreadValue <= 0 {
		s.respondError(w, http.StatusBadRequest, "archive_unread_value must be positive")
		return
	}
	cfg := store.FolderSettings{
		LabelID:              id,
		LabelName:            req.LabelName,
		ArchiveReadEnabled:   req.ArchiveReadEnabled,
		ArchiveUnreadEnabled: req.ArchiveUnreadEnabled,
		ArchiveUnreadValue:   req.ArchiveUnreadValue,
		ArchiveUnreadUnit:    unit,
	}
	if err := s.Store.PutFolderSettings(ctx, t, cfg); err != nil {
		s.Log.Error("put folder settings", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "put folder settings")
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

type apiAutoLearn struct {
	LabelID   string `json:"label_id"`
	LabelName string `json:"label_name"`
	Enabled   bool   `json:"enabled"`
}

func (s *Server) handleListAutoLearn(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	folders, err := s.Store.ListAutoLearnFolders(r.Context(), t)
	if err != nil {
		s.Log.Error("list auto-learn folders", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "list auto-learn folders")
		return
	}
	out := make([]apiAutoLearn, 0, len(folders))
	for _, f := range folders {
		out = append(out, apiAutoLearn{
			LabelID:   string(f.LabelID),
			LabelName: f.LabelName,
			Enabled:   f.Enabled,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"folders": out})
}

func (s *Server) handlePutAutoLearn(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	var req apiAutoLearn
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed auto-learn folder")
		return
	}
	if req.LabelID == "" {
		s.respondError(w, http.StatusBadRequest, "label_id required")
		return
	}
	folder := store.AutoLearnFolder{
		LabelID:   gmail.LabelID(req.LabelID),
		LabelName: req.LabelName,
		Enabled:   req.Enabled,
	}
	if err := s.Store.PutAutoLearnFolder(r.Context(), t, folder); err != nil {
		s.Log.Error("put auto-learn folder", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "put auto-learn folder")
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeleteAutoLearn(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	id := gmail.LabelID(mux.Vars(r)["id"])
	err := s.Store.DeleteAutoLearnFolder(r.Context(), t, id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "no such auto-learn folder")
		return
	}
	if err != nil {
		s.Log.Error("delete auto-learn folder", "tenant", t, "error", err)
		s.respondError(w, http.StatusInternalServerError, "delete auto-learn folder")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
