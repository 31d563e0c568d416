package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afklabs/afk/internal/notifier"
	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

// Config contains hub settings
type Config struct {
	KeepaliveSeconds int // idle ping interval on both legs
}

// Stats describes the hub's live connections for the stats endpoint
type Stats struct {
	SurfaceConnections int      `json:"surface_connections"`
	HookConnections    int      `json:"hook_connections"`
	HookSessionIDs     []string `json:"hook_session_ids"`
}

// Hub owns every live websocket on both legs: control surfaces (phones,
// browsers, terminals) and relay sources (one per waiting agent session). It
// is the single place where session lifecycle events are applied to storage
// and fanned out to surfaces.
type Hub struct {
	storage  *sqlite.SessionStorage
	notifier *notifier.Notifier
	logger   *logger.Logger
	upgrader websocket.Upgrader

	keepalive time.Duration

	surfaces     map[*surfaceConn]bool
	surfaceCount atomic.Int32
	register     chan *surfaceConn
	unregister   chan *surfaceConn
	broadcast    chan *wire.Frame

	hooksMu sync.RWMutex
	hooks   map[string]*hookConn // session id -> relay source
}

// New creates a new hub
func New(cfg Config, storage *sqlite.SessionStorage, notif *notifier.Notifier, log *logger.Logger) *Hub {
	keepalive := time.Duration(cfg.KeepaliveSeconds) * time.Second
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &Hub{
		storage:   storage,
		notifier:  notif,
		logger:    log.Named("hub"),
		keepalive: keepalive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		surfaces:   make(map[*surfaceConn]bool),
		register:   make(chan *surfaceConn),
		unregister: make(chan *surfaceConn),
		broadcast:  make(chan *wire.Frame),
		hooks:      make(map[string]*hookConn),
	}
}

// Run drives surface registration and broadcast fan-out until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub stopped")
			return

		case conn := <-h.register:
			h.surfaces[conn] = true
			h.surfaceCount.Store(int32(len(h.surfaces)))
			h.logger.Debug("Surface registered", logger.Int("surface_count", len(h.surfaces)))

		case conn := <-h.unregister:
			if _, ok := h.surfaces[conn]; ok {
				delete(h.surfaces, conn)
				conn.shutdown()
			}
			h.surfaceCount.Store(int32(len(h.surfaces)))
			h.logger.Debug("Surface unregistered", logger.Int("surface_count", len(h.surfaces)))

		case frame := <-h.broadcast:
			var stale []*surfaceConn
			for conn := range h.surfaces {
				if !conn.enqueue(frame) {
					stale = append(stale, conn)
				}
			}
			for _, conn := range stale {
				delete(h.surfaces, conn)
				conn.shutdown()
			}
			h.surfaceCount.Store(int32(len(h.surfaces)))
		}
	}
}

// Broadcast fans a frame out to every connected control surface
func (h *Hub) Broadcast(frame *wire.Frame) {
	h.logger.Debug("Broadcasting frame",
		logger.String("type", frame.Type),
		logger.String("session_id", frame.SessionID))
	h.broadcast <- frame
}

// Stats returns a snapshot of live connection counts
func (h *Hub) Stats() Stats {
	h.hooksMu.RLock()
	ids := make([]string, 0, len(h.hooks))
	for id := range h.hooks {
		ids = append(ids, id)
	}
	h.hooksMu.RUnlock()

	return Stats{
		SurfaceConnections: int(h.surfaceCount.Load()),
		HookConnections:    len(ids),
		HookSessionIDs:     ids,
	}
}

// respond delivers a response to the originating relay source. On success the
// session is marked responded and every surface is told; the caller gets an
// error to forward to the requesting surface otherwise.
func (h *Hub) respond(sessionID, response string) error {
	h.hooksMu.RLock()
	hook := h.hooks[sessionID]
	h.hooksMu.RUnlock()

	if hook == nil {
		return fmt.Errorf("hook connection not found or closed")
	}
	if !hook.enqueue(&wire.Frame{Type: wire.TypeResponse, Response: response}) {
		return fmt.Errorf("hook connection not found or closed")
	}

	if err := h.storage.UpdateStatus(sessionID, session.StatusResponded, response); err != nil {
		h.logger.Error("Failed to mark session responded",
			logger.Error(err),
			logger.String("session_id", sessionID))
	}

	h.Broadcast(&wire.Frame{Type: wire.TypeSessionResponded, SessionID: sessionID})
	return nil
}

// dismiss drops a session without responding: the record is marked
// disconnected, the relay source (if still attached) is cut loose, and every
// surface is told.
func (h *Hub) dismiss(sessionID string) {
	if err := h.storage.UpdateStatus(sessionID, session.StatusDisconnected, ""); err != nil {
		h.logger.Warn("Failed to mark session dismissed",
			logger.Error(err),
			logger.String("session_id", sessionID))
	}

	h.hooksMu.Lock()
	hook := h.hooks[sessionID]
	delete(h.hooks, sessionID)
	h.hooksMu.Unlock()
	if hook != nil {
		hook.close()
	}

	h.Broadcast(&wire.Frame{Type: wire.TypeSessionDismissed, SessionID: sessionID})
}

// detachHook removes a relay source connection after its read loop exits. A
// session still pending at that point is marked disconnected and surfaces are
// told, but the record stays visible.
func (h *Hub) detachHook(sessionID string) {
	h.hooksMu.Lock()
	_, attached := h.hooks[sessionID]
	delete(h.hooks, sessionID)
	h.hooksMu.Unlock()
	if !attached {
		return // already dismissed or replaced
	}

	sess, err := h.storage.GetSession(sessionID)
	if err != nil {
		h.logger.Warn("Failed to load session on hook disconnect",
			logger.Error(err),
			logger.String("session_id", sessionID))
		return
	}
	if sess.Status != session.StatusPending {
		return
	}

	if err := h.storage.UpdateStatus(sessionID, session.StatusDisconnected, ""); err != nil {
		h.logger.Error("Failed to mark session disconnected",
			logger.Error(err),
			logger.String("session_id", sessionID))
	}
	h.Broadcast(&wire.Frame{Type: wire.TypeSessionDisconnected, SessionID: sessionID})
}

// pendingSnapshot builds the init frame payload for a newly connected surface
func (h *Hub) pendingSnapshot() ([]*session.Session, error) {
	sessions, err := h.storage.GetSessions(session.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return sessions, nil
}
