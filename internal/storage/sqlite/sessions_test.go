package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/pkg/logger"
)

func newTestStorage(t *testing.T) *SessionStorage {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	storage, err := NewSessionStorage(dbPath, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func testSession(id string, createdAt time.Time) *session.Session {
	return &session.Session{
		ID:               id,
		InstanceID:       "inst-1",
		MachineName:      "mbp",
		ProjectName:      "api",
		WorkingDir:       "/home/dev/api",
		Notification:     "Bash command needs approval",
		NotificationType: session.NotificationPermissionPrompt,
		ContextTail:      "running tests...\nawaiting approval",
		Status:           session.StatusPending,
		CreatedAt:        createdAt,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	storage := newTestStorage(t)
	created := testSession("s1", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))

	require.NoError(t, storage.CreateSession(created))

	got, err := storage.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, created.MachineName, got.MachineName)
	require.Equal(t, created.ProjectName, got.ProjectName)
	require.Equal(t, created.Notification, got.Notification)
	require.Equal(t, created.NotificationType, got.NotificationType)
	require.Equal(t, created.ContextTail, got.ContextTail)
	require.Equal(t, session.StatusPending, got.Status)
	require.True(t, created.CreatedAt.Equal(got.CreatedAt))
	require.Nil(t, got.RespondedAt)
	require.Empty(t, got.Response)
}

func TestGetSessionNotFound(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.GetSession("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetSessionsFiltersAndOrders(t *testing.T) {
	storage := newTestStorage(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, storage.CreateSession(testSession("old", base)))
	require.NoError(t, storage.CreateSession(testSession("mid", base.Add(time.Minute))))
	require.NoError(t, storage.CreateSession(testSession("new", base.Add(2*time.Minute))))
	require.NoError(t, storage.UpdateStatus("mid", session.StatusResponded, "ok"))

	pending, err := storage.GetSessions(session.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "new", pending[0].ID, "newest first")
	require.Equal(t, "old", pending[1].ID)

	all, err := storage.GetSessions("")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestUpdateStatusWithResponse(t *testing.T) {
	storage := newTestStorage(t)
	require.NoError(t, storage.CreateSession(testSession("s1", time.Now().UTC())))

	require.NoError(t, storage.UpdateStatus("s1", session.StatusResponded, "2"))

	got, err := storage.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, session.StatusResponded, got.Status)
	require.Equal(t, "2", got.Response)
	require.NotNil(t, got.RespondedAt)
}

func TestUpdateStatusWithoutResponse(t *testing.T) {
	storage := newTestStorage(t)
	require.NoError(t, storage.CreateSession(testSession("s1", time.Now().UTC())))

	require.NoError(t, storage.UpdateStatus("s1", session.StatusDisconnected, ""))

	got, err := storage.GetSession("s1")
	require.NoError(t, err)
	require.Equal(t, session.StatusDisconnected, got.Status)
	require.Nil(t, got.RespondedAt, "responded_at only set when a response is recorded")
}

func TestUpdateStatusNotFound(t *testing.T) {
	storage := newTestStorage(t)

	err := storage.UpdateStatus("missing", session.StatusResponded, "ok")
	require.ErrorIs(t, err, ErrNotFound)
}
