package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afklabs/afk/internal/hub"
	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	hub     *hub.Hub
	storage *sqlite.SessionStorage
	logger  *logger.Logger
	started time.Time
}

// NewHandler creates a new API handler
func NewHandler(h *hub.Hub, storage *sqlite.SessionStorage, log *logger.Logger) *Handler {
	return &Handler{
		hub:     h,
		storage: storage,
		logger:  log.Named("api-handler"),
		started: time.Now().UTC(),
	}
}

// GetHealth returns service liveness and uptime
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// GetSessions returns stored sessions, optionally filtered by status
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	status := session.Status(r.URL.Query().Get("status"))

	sessions, err := h.storage.GetSessions(status)
	if err != nil {
		h.logger.Error("Failed to load sessions", logger.Error(err))
		http.Error(w, "Failed to load sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns a single session by id
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	sess, err := h.storage.GetSession(id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load session",
			logger.Error(err),
			logger.String("session_id", id))
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, sess)
}

// GetStats returns live hub connection counts
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.hub.Stats())
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
