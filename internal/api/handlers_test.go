package api

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

	"github.com/afklabs/afk/internal/hub"
	"github.com/afklabs/afk/internal/notifier"
	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/storage/sqlite"
	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

func newTestAPI(t *testing.T) (*httptest.Server, *sqlite.SessionStorage) {
	storage, err := sqlite.NewSessionStorage(filepath.Join(t.TempDir(), "sessions.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	notif := notifier.New(notifier.Config{Enabled: false}, logger.NewNop())
	h := hub.New(hub.Config{KeepaliveSeconds: 30}, storage, notif, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	router := NewRouter(h, storage, logger.NewNop())
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	return srv, storage
}

func seedSession(t *testing.T, storage *sqlite.SessionStorage, id string, status session.Status) {
	sess := &session.Session{
		ID:           id,
		InstanceID:   "inst-1",
		MachineName:  "mbp",
		ProjectName:  "api",
		WorkingDir:   "/home/dev/api",
		Notification: "needs input",
		Status:       session.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, storage.CreateSession(sess))
	if status != session.StatusPending {
		require.NoError(t, storage.UpdateStatus(id, status, ""))
	}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t)

	var body map[string]interface{}
	status := getJSON(t, srv.URL+"/api/health", &body)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestSessionsEndpoint(t *testing.T) {
	srv, storage := newTestAPI(t)
	seedSession(t, storage, "s1", session.StatusPending)
	seedSession(t, storage, "s2", session.StatusResponded)

	var body struct {
		Sessions []*session.Session `json:"sessions"`
		Count    int                `json:"count"`
	}
	status := getJSON(t, srv.URL+"/api/sessions", &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, body.Count)

	status = getJSON(t, srv.URL+"/api/sessions?status=pending", &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, body.Count)
	require.Equal(t, "s1", body.Sessions[0].ID)
}

func TestSessionByIDEndpoint(t *testing.T) {
	srv, storage := newTestAPI(t)
	seedSession(t, storage, "s1", session.StatusPending)

	var got session.Session
	status := getJSON(t, srv.URL+"/api/sessions/s1", &got)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "s1", got.ID)

	status = getJSON(t, srv.URL+"/api/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestWebsocketRoutesUpgrade(t *testing.T) {
	srv, storage := newTestAPI(t)
	seedSession(t, storage, "s1", session.StatusPending)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ui"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The surface leg works through the router stack: init arrives first
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(data)
	require.NoError(t, err)
	require.Equal(t, wire.TypeInit, frame.Type)
	require.Len(t, frame.Sessions, 1)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t)

	var stats hub.Stats
	status := getJSON(t, srv.URL+"/api/stats", &stats)

	require.Equal(t, http.StatusOK, status)
	require.Zero(t, stats.SurfaceConnections)
	require.Zero(t, stats.HookConnections)
}
