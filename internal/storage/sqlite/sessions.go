package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/pkg/logger"
)

// ErrNotFound is returned when a session id does not exist
var ErrNotFound = errors.New("session not found")

// SessionStorage is a SQLite-based storage for session records
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite-based session storage
func NewSessionStorage(dbPath string, log *logger.Logger) (*SessionStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &SessionStorage{
		db:     db,
		logger: storageLogger,
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database connection
func (s *SessionStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *SessionStorage) GetDB() *sql.DB {
	return s.db
}

// initDB initializes the database schema
func (s *SessionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			machine_name TEXT NOT NULL,
			project_name TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			notification TEXT NOT NULL,
			notification_type TEXT DEFAULT 'permission_prompt',
			context_tail TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			responded_at TIMESTAMP,
			response TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_status ON sessions(status)`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_created_at ON sessions(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// CreateSession inserts a new pending session record
func (s *SessionStorage) CreateSession(sess *session.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions
		(id, instance_id, machine_name, project_name, working_dir, notification, notification_type, context_tail, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.InstanceID,
		sess.MachineName,
		sess.ProjectName,
		sess.WorkingDir,
		sess.Notification,
		string(sess.NotificationType),
		sess.ContextTail,
		string(sess.Status),
		sess.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	s.logger.Debug("Stored session",
		logger.String("session_id", sess.ID),
		logger.String("machine", sess.MachineName),
		logger.String("project", sess.ProjectName))

	return nil
}

// GetSession returns the session with the given id
func (s *SessionStorage) GetSession(id string) (*session.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, instance_id, machine_name, project_name, working_dir, notification, notification_type, context_tail, status, created_at, responded_at, response
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return sess, nil
}

// GetSessions returns sessions ordered newest first, optionally filtered by status
func (s *SessionStorage) GetSessions(status session.Status) ([]*session.Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(
			`SELECT id, instance_id, machine_name, project_name, working_dir, notification, notification_type, context_tail, status, created_at, responded_at, response
			FROM sessions WHERE status = ? ORDER BY created_at DESC`, string(status))
	} else {
		rows, err = s.db.Query(
			`SELECT id, instance_id, machine_name, project_name, working_dir, notification, notification_type, context_tail, status, created_at, responded_at, response
			FROM sessions ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// UpdateStatus sets a session's status. A non-empty response also records the
// response text and the responded_at timestamp.
func (s *SessionStorage) UpdateStatus(id string, status session.Status, response string) error {
	var (
		result sql.Result
		err    error
	)
	if response != "" {
		result, err = s.db.Exec(
			`UPDATE sessions SET status = ?, response = ?, responded_at = ? WHERE id = ?`,
			string(status), response, time.Now().UTC().Format(time.RFC3339), id)
	} else {
		result, err = s.db.Exec(
			`UPDATE sessions SET status = ? WHERE id = ?`,
			string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("Updated session status",
		logger.String("session_id", id),
		logger.String("status", string(status)))

	return nil
}

// scanner matches both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess             session.Session
		notificationType string
		status           string
		contextTail      sql.NullString
		createdAt        string
		respondedAt      sql.NullString
		response         sql.NullString
	)

	err := row.Scan(
		&sess.ID,
		&sess.InstanceID,
		&sess.MachineName,
		&sess.ProjectName,
		&sess.WorkingDir,
		&sess.Notification,
		&notificationType,
		&contextTail,
		&status,
		&createdAt,
		&respondedAt,
		&response,
	)
	if err != nil {
		return nil, err
	}

	sess.NotificationType = session.NotificationType(notificationType)
	sess.Status = session.Status(status)
	sess.ContextTail = contextTail.String
	sess.Response = response.String

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sess.CreatedAt = t
	}
	if respondedAt.Valid {
		if t, err := time.Parse(time.RFC3339, respondedAt.String); err == nil {
			sess.RespondedAt = &t
		}
	}

	return &sess, nil
}
