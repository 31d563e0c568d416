package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/pkg/logger"
)

const (
	// How much of the context tail makes it into a push notification
	contextPreviewLines = 3
	contextPreviewChars = 200
)

// Config contains push notification settings
type Config struct {
	Enabled        bool
	ServerURL      string // ntfy server, e.g. https://ntfy.sh
	Topic          string
	ClickURL       string // where tapping the notification takes the phone
	TimeoutSeconds int
}

// Notifier delivers "agent needs input" push notifications over the ntfy JSON
// API. Delivery failures are logged and never propagate: push is best-effort,
// the websocket channel is the source of truth.
type Notifier struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
}

// ntfyMessage is the ntfy JSON publish payload
type ntfyMessage struct {
	Topic    string       `json:"topic"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Priority int          `json:"priority"`
	Tags     []string     `json:"tags,omitempty"`
	Click    string       `json:"click,omitempty"`
	Actions  []ntfyAction `json:"actions,omitempty"`
}

type ntfyAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
	Clear  bool   `json:"clear,omitempty"`
}

// New creates a new push notifier
func New(config Config, log *logger.Logger) *Notifier {
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("notifier"),
	}
}

// NotifySession sends a push notification for a newly created session
func (n *Notifier) NotifySession(ctx context.Context, sess *session.Session) error {
	if !n.config.Enabled {
		return nil
	}

	isPermission := sess.NotificationType != session.NotificationTextInput
	tag := "lock"
	emoji := "🔐"
	if !isPermission {
		tag = "speech_balloon"
		emoji = "💬"
	}

	title := fmt.Sprintf("%s %s/%s", emoji, sess.MachineName, sess.ProjectName)
	message := sess.Notification
	if preview := contextPreview(sess.ContextTail); preview != "" {
		message = fmt.Sprintf("%s\n\n%s", sess.Notification, preview)
	}

	payload := ntfyMessage{
		Topic:    n.config.Topic,
		Title:    title,
		Message:  message,
		Priority: 5, // urgent
		Tags:     []string{tag},
		Click:    n.config.ClickURL,
	}
	if n.config.ClickURL != "" {
		payload.Actions = []ntfyAction{{
			Action: "view",
			Label:  "Open AFK",
			URL:    n.config.ClickURL,
			Clear:  true,
		}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode ntfy payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected ntfy status code: %d", resp.StatusCode)
	}

	n.logger.Info("Sent push notification",
		logger.String("session_id", sess.ID),
		logger.String("topic", n.config.Topic))

	return nil
}

// contextPreview trims a context tail to the last few lines, capped
func contextPreview(contextTail string) string {
	trimmed := strings.TrimSpace(contextTail)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > contextPreviewLines {
		lines = lines[len(lines)-contextPreviewLines:]
	}
	preview := strings.Join(lines, "\n")
	// Cap by characters, not bytes, so a multibyte rune is never split
	if runes := []rune(preview); len(runes) > contextPreviewChars {
		preview = string(runes[:contextPreviewChars]) + "..."
	}
	return preview
}
