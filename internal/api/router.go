package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/afklabs/afk/internal/hub"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/pkg/logger"
)

// Router wires the HTTP API and both websocket legs
type Router struct {
	handler *Handler
	hub     *hub.Hub
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(h *hub.Hub, storage *sqlite.SessionStorage, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(h, storage, log),
		hub:     h,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes configured
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	// Websocket legs: agent hooks register here, control surfaces subscribe
	// here. No Timeout middleware on these: the connections are hijacked and
	// long-lived.
	router.Get("/ws/hook", r.hub.ServeHook)
	router.Get("/ws/ui", r.hub.ServeSurface)

	router.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))
		api.Get("/health", r.handler.GetHealth)
		api.Get("/sessions", r.handler.GetSessions)
		api.Get("/sessions/{id}", r.handler.GetSession)
		api.Get("/stats", r.handler.GetStats)
	})

	return router
}
