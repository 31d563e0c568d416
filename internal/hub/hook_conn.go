package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

// hookConn is one connected relay source: an agent session blocked on human
// input. It registers once, then idles until a response is delivered or one
// side goes away.
type hookConn struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan *wire.Frame
	sessionID string

	mu     sync.Mutex
	closed bool
}

// ServeHook upgrades a relay-source connection. The first frame is the
// registration payload; the hub persists the session, acks with the assigned
// id, fires the push notifier, and announces the session to every surface.
func (h *Hub) ServeHook(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade hook connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	h.logger.Info("Hook connected", logger.String("remote_addr", r.RemoteAddr))

	sess, err := h.registerHook(conn)
	if err != nil {
		h.logger.Warn("Hook registration failed", logger.Error(err))
		conn.Close()
		return
	}

	hc := &hookConn{
		hub:       h,
		conn:      conn,
		send:      make(chan *wire.Frame, 16),
		sessionID: sess.ID,
	}
	hc.send <- &wire.Frame{Type: wire.TypeRegistered, SessionID: sess.ID}

	h.hooksMu.Lock()
	h.hooks[sess.ID] = hc
	h.hooksMu.Unlock()

	// Push delivery is best-effort and must not hold up the announcement
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.notifier.NotifySession(ctx, sess); err != nil {
			h.logger.Warn("Failed to send push notification",
				logger.Error(err),
				logger.String("session_id", sess.ID))
		}
	}()

	h.Broadcast(&wire.Frame{Type: wire.TypeNewSession, Session: sess})

	go hc.writePump()
	hc.readPump()
}

// registerHook reads and persists the registration payload
func (h *Hub) registerHook(conn *websocket.Conn) (*session.Session, error) {
	conn.SetReadDeadline(time.Now().Add(h.keepalive))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read registration: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var payload session.RegisterPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode registration: %w", err)
	}
	if payload.MachineName == "" || payload.ProjectName == "" || payload.Notification == "" {
		return nil, fmt.Errorf("registration missing machine_name, project_name, or notification")
	}
	if payload.NotificationType == "" {
		payload.NotificationType = session.NotificationPermissionPrompt
	}

	sess := &session.Session{
		ID:               uuid.NewString(),
		InstanceID:       payload.InstanceID,
		MachineName:      payload.MachineName,
		ProjectName:      payload.ProjectName,
		WorkingDir:       payload.WorkingDir,
		Notification:     payload.Notification,
		NotificationType: payload.NotificationType,
		ContextTail:      payload.ContextTail,
		Status:           session.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.storage.CreateSession(sess); err != nil {
		return nil, err
	}

	h.logger.Info("Session registered",
		logger.String("session_id", sess.ID),
		logger.String("machine", sess.MachineName),
		logger.String("project", sess.ProjectName),
		logger.String("notification_type", string(sess.NotificationType)))

	return sess, nil
}

// enqueue offers a frame to the relay source without blocking
func (hc *hookConn) enqueue(frame *wire.Frame) bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.closed {
		return false
	}
	select {
	case hc.send <- frame:
		return true
	default:
		return false
	}
}

// close releases the connection, e.g. when its session is dismissed
func (hc *hookConn) close() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.closed {
		return
	}
	hc.closed = true
	close(hc.send)
}

// readPump keeps the connection alive until the relay source goes away, then
// detaches it (marking a still-pending session disconnected)
func (hc *hookConn) readPump() {
	defer func() {
		hc.close()
		hc.conn.Close()
		hc.hub.detachHook(hc.sessionID)
	}()

	for {
		_, data, err := hc.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			hc.hub.logger.Warn("Dropping malformed hook frame",
				logger.Error(err),
				logger.String("session_id", hc.sessionID))
			continue
		}
		switch frame.Type {
		case wire.TypePing:
			hc.enqueue(&wire.Frame{Type: wire.TypePong})
		case wire.TypePong:
			// inert
		default:
			hc.hub.logger.Debug("Ignoring hook frame",
				logger.String("type", frame.Type),
				logger.String("session_id", hc.sessionID))
		}
	}
}

// writePump drains the send channel and emits keepalive pings while idle
func (hc *hookConn) writePump() {
	ticker := time.NewTicker(hc.hub.keepalive)
	defer func() {
		ticker.Stop()
		hc.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-hc.send:
			if !ok {
				hc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := wire.Encode(frame)
			if err != nil {
				hc.hub.logger.Error("Failed to encode frame", logger.Error(err), logger.String("type", frame.Type))
				continue
			}
			if err := hc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			data, _ := wire.Encode(&wire.Frame{Type: wire.TypePing})
			if err := hc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
