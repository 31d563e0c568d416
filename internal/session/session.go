package session

import "time"

// Status represents the lifecycle state of a session
type Status string

const (
	// StatusPending means the originating agent is still waiting for a response
	StatusPending Status = "pending"
	// StatusResponded means a control surface answered and the response was
	// delivered to the originating agent
	StatusResponded Status = "responded"
	// StatusTimeout means the originating agent gave up waiting
	StatusTimeout Status = "timeout"
	// StatusDisconnected means the originating agent went away (or the session
	// was dismissed) before a response was delivered
	StatusDisconnected Status = "disconnected"
)

// NotificationType selects which quick-response affordances a control surface
// offers for a session
type NotificationType string

const (
	// NotificationPermissionPrompt is a numbered permission menu (1/2/3...)
	NotificationPermissionPrompt NotificationType = "permission_prompt"
	// NotificationTextInput is a free-form text prompt
	NotificationTextInput NotificationType = "text_input"
)

// Session is one outstanding request from an agent for human input. It is
// created when a relay source registers, pushed to every control surface, and
// tracked until responded, dismissed, or timed out.
type Session struct {
	ID               string           `json:"id"`
	InstanceID       string           `json:"instance_id,omitempty"`
	MachineName      string           `json:"machine_name"`
	ProjectName      string           `json:"project_name"`
	WorkingDir       string           `json:"working_dir"`
	Notification     string           `json:"notification"`
	NotificationType NotificationType `json:"notification_type,omitempty"`
	ContextTail      string           `json:"context_tail,omitempty"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	RespondedAt      *time.Time       `json:"responded_at,omitempty"`
	Response         string           `json:"response,omitempty"`
}

// RegisterPayload is the first frame a relay source sends after opening its
// channel. The server assigns the session ID.
type RegisterPayload struct {
	InstanceID       string           `json:"instance_id"`
	MachineName      string           `json:"machine_name"`
	ProjectName      string           `json:"project_name"`
	WorkingDir       string           `json:"working_dir"`
	Notification     string           `json:"notification"`
	NotificationType NotificationType `json:"notification_type,omitempty"`
	ContextTail      string           `json:"context_tail,omitempty"`
}
