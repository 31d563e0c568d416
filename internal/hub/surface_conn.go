package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

// surfaceConn is one connected control surface. Outbound frames go through a
// buffered send channel drained by writePump, so a slow consumer never blocks
// the hub; a full buffer drops the connection (the surface recovers via the
// init snapshot on reconnect).
type surfaceConn struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *wire.Frame

	mu     sync.Mutex
	closed bool
}

// ServeSurface upgrades a control-surface connection, delivers the init
// snapshot, and serves it until it drops. The init frame is enqueued before
// the connection joins the broadcast set, so it is always the first frame and
// is delivered exactly once per connection.
func (h *Hub) ServeSurface(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade surface connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	h.logger.Info("Surface connected", logger.String("remote_addr", r.RemoteAddr))

	snapshot, err := h.pendingSnapshot()
	if err != nil {
		h.logger.Error("Failed to build init snapshot", logger.Error(err))
		conn.Close()
		return
	}

	sc := &surfaceConn{
		hub:  h,
		conn: conn,
		send: make(chan *wire.Frame, 256),
	}
	sc.send <- &wire.Frame{Type: wire.TypeInit, Sessions: snapshot}

	h.register <- sc

	go sc.writePump()
	go sc.readPump()
}

// enqueue offers a frame to this surface without blocking. Returns false when
// the connection is closed or its buffer is full.
func (sc *surfaceConn) enqueue(frame *wire.Frame) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return false
	}
	select {
	case sc.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown marks the connection closed and releases the write pump. Called
// only from the hub's run loop.
func (sc *surfaceConn) shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.closed = true
	close(sc.send)
}

// readPump applies frames from the surface: keepalive, respond, dismiss. A
// malformed frame is logged and skipped, never fatal.
func (sc *surfaceConn) readPump() {
	defer func() {
		sc.hub.unregister <- sc
		sc.conn.Close()
	}()

	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				sc.hub.logger.Error("Surface read error", logger.Error(err))
			}
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			sc.hub.logger.Warn("Dropping malformed surface frame", logger.Error(err))
			continue
		}

		switch frame.Type {
		case wire.TypePing:
			sc.enqueue(&wire.Frame{Type: wire.TypePong})

		case wire.TypePong:
			// inert

		case wire.TypeRespond:
			sc.hub.logger.Info("Respond requested",
				logger.String("session_id", frame.SessionID))
			if err := sc.hub.respond(frame.SessionID, frame.Response); err != nil {
				sc.enqueue(&wire.Frame{Type: wire.TypeError, Message: err.Error()})
			}

		case wire.TypeDismiss:
			sc.hub.logger.Info("Dismiss requested",
				logger.String("session_id", frame.SessionID))
			sc.hub.dismiss(frame.SessionID)

		default:
			sc.hub.logger.Debug("Ignoring surface frame", logger.String("type", frame.Type))
		}
	}
}

// writePump drains the send channel and emits keepalive pings while idle
func (sc *surfaceConn) writePump() {
	ticker := time.NewTicker(sc.hub.keepalive)
	defer func() {
		ticker.Stop()
		sc.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sc.send:
			if !ok {
				sc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := wire.Encode(frame)
			if err != nil {
				sc.hub.logger.Error("Failed to encode frame", logger.Error(err), logger.String("type", frame.Type))
				continue
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			data, _ := wire.Encode(&wire.Frame{Type: wire.TypePing})
			if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
