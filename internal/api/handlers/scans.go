package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/session"
)

// ScansHandler handles scan and database update endpoints.
type ScansHandler struct {
	Sessions Sessions
	History  History
	Settings Settings
}

type scanRequest struct {
	Path       string `json:"path"`
	Update     bool   `json:"update"`
	DBFile     string `json:"dbfile"`
	Obfuscated *bool  `json:"obfuscated"`
}

func sessionAccepted(w http.ResponseWriter, snap session.Snapshot) {
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":         snap.ID,
		"kind":       snap.Kind,
		"status":     "running",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
		"trigger":    snap.Trigger,
	})
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "SESSION_ALREADY_RUNNING", "A scan or update is already in progress")
	case errors.Is(err, session.ErrEngineBusy):
		writeError(w, http.StatusConflict, "ENGINE_BUSY", "The engine is still finishing the previous command")
	case errors.Is(err, session.ErrEmptyPath):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		slog.Error("sessions: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
	}
}

// Create handles POST /api/scans.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	obfuscated := false
	if body.Obfuscated != nil {
		obfuscated = *body.Obfuscated
	} else if h.Settings != nil {
		obfuscated = h.Settings.Get().ObfuscatedIsActive
	}

	snap, err := h.Sessions.StartScan(r.Context(), session.Request{
		Path:       body.Path,
		Update:     body.Update,
		DBFile:     body.DBFile,
		Obfuscated: obfuscated,
		Trigger:    session.TriggerManual,
	})
	if err != nil {
		writeStartError(w, err)
		return
	}
	sessionAccepted(w, snap)
}

// UpdateDatabase handles POST /api/database/update.
func (h *ScansHandler) UpdateDatabase(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Sessions.StartUpdate(r.Context(), session.TriggerManual)
	if err != nil {
		writeStartError(w, err)
		return
	}
	sessionAccepted(w, snap)
}

// List handles GET /api/scans: session history newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.History.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("scans list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[history.Session]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/scans/{id}. Matches are withheld for sessions run
// in obfuscated mode.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.History.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sess.Obfuscated {
		sess.Matches = nil
	}
	writeJSON(w, http.StatusOK, sess)
}
