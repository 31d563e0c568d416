package wire

import (
	"encoding/json"
	"fmt"

	"github.com/afklabs/afk/internal/session"
)

// Frame types pushed to control surfaces
const (
	TypeInit                = "init"                 // full snapshot, once per connection
	TypeNewSession          = "new_session"          // a session was created
	TypeSessionResponded    = "session_responded"    // a session was answered (by any surface)
	TypeSessionDisconnected = "session_disconnected" // the relay source went away
	TypeSessionDismissed    = "session_dismissed"    // a session was dismissed (by any surface)
	TypeError               = "error"                // server-reported error
)

// Frame types sent by control surfaces
const (
	TypeRespond = "respond" // deliver a response to the originating agent
	TypeDismiss = "dismiss" // drop a session without responding
)

// Frame types on the relay-source leg
const (
	TypeRegistered = "registered" // ack for a relay source registration
	TypeResponse   = "response"   // response delivery to the relay source
)

// Keepalive frame types, valid in both directions on both legs
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Frame is a single wire message. The Type discriminator selects which of the
// remaining fields are meaningful; all frames are JSON text frames.
type Frame struct {
	Type      string             `json:"type"`
	Sessions  []*session.Session `json:"sessions,omitempty"`   // init
	Session   *session.Session   `json:"session,omitempty"`    // new_session
	SessionID string             `json:"session_id,omitempty"` // per-session deltas, respond, dismiss, registered
	Response  string             `json:"response,omitempty"`   // respond, response
	Message   string             `json:"message,omitempty"`    // error
}

// Decode parses and validates a single frame. A non-nil error means the frame
// must be dropped; the connection itself stays healthy (per-frame errors are
// never fatal).
func Decode(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Encode serializes a frame for sending
func Encode(frame *Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}
	return data, nil
}

// Validate checks that the fields required by the frame's type are present.
// Unknown types validate successfully so newer peers stay compatible; the
// consumer ignores them.
func (f *Frame) Validate() error {
	switch f.Type {
	case "":
		return fmt.Errorf("frame has no type")
	case TypeNewSession:
		if f.Session == nil {
			return fmt.Errorf("new_session frame has no session")
		}
		if f.Session.ID == "" {
			return fmt.Errorf("new_session frame has a session without an id")
		}
	case TypeSessionResponded, TypeSessionDisconnected, TypeSessionDismissed, TypeDismiss:
		if f.SessionID == "" {
			return fmt.Errorf("%s frame has no session_id", f.Type)
		}
	case TypeRespond:
		if f.SessionID == "" {
			return fmt.Errorf("respond frame has no session_id")
		}
	case TypeInit:
		for i, s := range f.Sessions {
			if s == nil || s.ID == "" {
				return fmt.Errorf("init frame has a session without an id at index %d", i)
			}
		}
	}
	return nil
}
