package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/afklabs/afk/internal/notifier"
	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

// testGateway is a hub wired to real storage behind an httptest server, with
// push notifications disabled
type testGateway struct {
	hub     *Hub
	storage *sqlite.SessionStorage
	srv     *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	storage, err := sqlite.NewSessionStorage(filepath.Join(t.TempDir(), "sessions.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	notif := notifier.New(notifier.Config{Enabled: false}, logger.NewNop())
	h := New(Config{KeepaliveSeconds: 30}, storage, notif, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/hook", h.ServeHook)
	mux.HandleFunc("/ws/ui", h.ServeSurface)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testGateway{hub: h, storage: storage, srv: srv}
}

func (g *testGateway) dial(t *testing.T, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame *wire.Frame) {
	data, err := wire.Encode(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readFrame reads frames until one that is not a keepalive arrives
func readFrame(t *testing.T, conn *websocket.Conn) *wire.Frame {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		frame, err := wire.Decode(data)
		require.NoError(t, err)
		if frame.Type == wire.TypePing || frame.Type == wire.TypePong {
			continue
		}
		return frame
	}
}

// registerHook opens a relay-source connection and completes registration
func registerHook(t *testing.T, g *testGateway, notification string) (*websocket.Conn, string) {
	conn := g.dial(t, "/ws/hook")
	sendJSON(t, conn, session.RegisterPayload{
		InstanceID:   "inst-1",
		MachineName:  "mbp",
		ProjectName:  "api",
		WorkingDir:   "/home/dev/api",
		Notification: notification,
		ContextTail:  "some context",
	})

	frame := readFrame(t, conn)
	require.Equal(t, wire.TypeRegistered, frame.Type)
	require.NotEmpty(t, frame.SessionID)
	return conn, frame.SessionID
}

func TestHookRegistration(t *testing.T) {
	g := newTestGateway(t)

	_, sessionID := registerHook(t, g, "Bash command needs approval")

	sess, err := g.storage.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusPending, sess.Status)
	require.Equal(t, "mbp", sess.MachineName)
	require.Equal(t, session.NotificationPermissionPrompt, sess.NotificationType, "missing type defaults to permission prompt")
}

func TestHookRegistrationRejectsIncompletePayload(t *testing.T) {
	g := newTestGateway(t)
	conn := g.dial(t, "/ws/hook")

	sendJSON(t, conn, session.RegisterPayload{MachineName: "mbp"})

	// The server drops the connection without a registered ack
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestSurfaceReceivesInitFirst(t *testing.T) {
	g := newTestGateway(t)
	_, sessionID := registerHook(t, g, "needs input")

	surface := g.dial(t, "/ws/ui")
	frame := readFrame(t, surface)

	require.Equal(t, wire.TypeInit, frame.Type, "init must be the first frame on every surface connection")
	require.Len(t, frame.Sessions, 1)
	require.Equal(t, sessionID, frame.Sessions[0].ID)
}

func TestSurfaceInitEmptyWhenNothingPending(t *testing.T) {
	g := newTestGateway(t)

	surface := g.dial(t, "/ws/ui")
	frame := readFrame(t, surface)

	require.Equal(t, wire.TypeInit, frame.Type)
	require.NotNil(t, frame.Sessions)
	require.Empty(t, frame.Sessions)
}

func TestNewSessionBroadcast(t *testing.T) {
	g := newTestGateway(t)

	surface := g.dial(t, "/ws/ui")
	init := readFrame(t, surface)
	require.Equal(t, wire.TypeInit, init.Type)

	_, sessionID := registerHook(t, g, "needs input")

	frame := readFrame(t, surface)
	require.Equal(t, wire.TypeNewSession, frame.Type)
	require.Equal(t, sessionID, frame.Session.ID)
	require.Equal(t, session.StatusPending, frame.Session.Status)
}

func TestRespondFlow(t *testing.T) {
	g := newTestGateway(t)
	hook, sessionID := registerHook(t, g, "pick an option")

	answering := g.dial(t, "/ws/ui")
	readFrame(t, answering) // init
	watching := g.dial(t, "/ws/ui")
	readFrame(t, watching) // init

	sendFrame(t, answering, &wire.Frame{Type: wire.TypeRespond, SessionID: sessionID, Response: "2"})

	// The relay source gets the response
	delivery := readFrame(t, hook)
	require.Equal(t, wire.TypeResponse, delivery.Type)
	require.Equal(t, "2", delivery.Response)

	// Every surface is told, including the one that answered
	for _, surface := range []*websocket.Conn{answering, watching} {
		frame := readFrame(t, surface)
		require.Equal(t, wire.TypeSessionResponded, frame.Type)
		require.Equal(t, sessionID, frame.SessionID)
	}

	sess, err := g.storage.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusResponded, sess.Status)
	require.Equal(t, "2", sess.Response)
	require.NotNil(t, sess.RespondedAt)
}

func TestRespondToUnknownSessionReturnsError(t *testing.T) {
	g := newTestGateway(t)

	surface := g.dial(t, "/ws/ui")
	readFrame(t, surface) // init

	sendFrame(t, surface, &wire.Frame{Type: wire.TypeRespond, SessionID: "ghost", Response: "2"})

	frame := readFrame(t, surface)
	require.Equal(t, wire.TypeError, frame.Type)
	require.NotEmpty(t, frame.Message)
}

func TestDismissFlow(t *testing.T) {
	g := newTestGateway(t)
	hook, sessionID := registerHook(t, g, "needs input")

	surface := g.dial(t, "/ws/ui")
	readFrame(t, surface) // init

	sendFrame(t, surface, &wire.Frame{Type: wire.TypeDismiss, SessionID: sessionID})

	frame := readFrame(t, surface)
	require.Equal(t, wire.TypeSessionDismissed, frame.Type)
	require.Equal(t, sessionID, frame.SessionID)

	sess, err := g.storage.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusDisconnected, sess.Status)

	// The relay source is cut loose
	hook.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := hook.ReadMessage()
		if err != nil {
			break
		}
	}
}

func TestHookDisconnectMarksSession(t *testing.T) {
	g := newTestGateway(t)
	hook, sessionID := registerHook(t, g, "needs input")

	surface := g.dial(t, "/ws/ui")
	readFrame(t, surface) // init

	hook.Close()

	frame := readFrame(t, surface)
	require.Equal(t, wire.TypeSessionDisconnected, frame.Type)
	require.Equal(t, sessionID, frame.SessionID)

	sess, err := g.storage.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusDisconnected, sess.Status)
}

func TestSurfaceSurvivesMalformedFrame(t *testing.T) {
	g := newTestGateway(t)

	surface := g.dial(t, "/ws/ui")
	readFrame(t, surface) // init

	require.NoError(t, surface.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection is still serviceable
	sendFrame(t, surface, &wire.Frame{Type: wire.TypePing})
	surface.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := surface.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(data)
	require.NoError(t, err)
	require.Equal(t, wire.TypePong, frame.Type)
}

func TestStats(t *testing.T) {
	g := newTestGateway(t)
	_, sessionID := registerHook(t, g, "needs input")

	surface := g.dial(t, "/ws/ui")
	readFrame(t, surface) // init, so registration has completed

	require.Eventually(t, func() bool {
		stats := g.hub.Stats()
		return stats.SurfaceConnections == 1 && stats.HookConnections == 1
	}, 5*time.Second, 10*time.Millisecond)

	stats := g.hub.Stats()
	require.Equal(t, []string{sessionID}, stats.HookSessionIDs)
}
