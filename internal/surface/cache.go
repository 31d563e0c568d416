package surface

import (
	"github.com/afklabs/afk/internal/session"
)

// Cache is the ordered collection of sessions a control surface knows about,
// most recently created first. It is reconciled purely from inbound frames
// plus the two optimistic local mutations (dismiss, respond-send), and is
// mutated only from the owning client's event loop.
type Cache struct {
	sessions  []*session.Session
	focusedID string // session whose detail view is open, "" if none
	sendingID string // session with an in-flight respond locking the UI
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{}
}

// ApplyInit replaces the entire cache with the snapshot, discarding all prior
// state. A focused detail view survives only if the snapshot still contains
// the focused session. The sending lock is always dropped: the pending action
// it belonged to is gone, so nothing would ever release it.
func (c *Cache) ApplyInit(sessions []*session.Session) {
	c.sessions = make([]*session.Session, 0, len(sessions))
	for _, s := range sessions {
		if s == nil || s.ID == "" {
			continue
		}
		copied := *s
		c.sessions = append(c.sessions, &copied)
	}
	if c.focusedID != "" && c.find(c.focusedID) < 0 {
		c.focusedID = ""
	}
	c.sendingID = ""
}

// ApplyNewSession prepends a session. If the id is already present the record
// is replaced in place, keeping its position, so a duplicate announcement can
// never yield two records for one id.
func (c *Cache) ApplyNewSession(s *session.Session) {
	if s == nil || s.ID == "" {
		return
	}
	copied := *s
	if i := c.find(s.ID); i >= 0 {
		c.sessions[i] = &copied
		return
	}
	c.sessions = append([]*session.Session{&copied}, c.sessions...)
}

// ApplyResponded removes the session; a detail view focused on it closes
func (c *Cache) ApplyResponded(id string) {
	c.remove(id)
}

// ApplyDismissed removes the session; a detail view focused on it closes
func (c *Cache) ApplyDismissed(id string) {
	c.remove(id)
}

// ApplyDisconnected marks the session disconnected in place. The record stays,
// and a focused detail view stays open showing the new status.
func (c *Cache) ApplyDisconnected(id string) {
	if i := c.find(id); i >= 0 {
		c.sessions[i].Status = session.StatusDisconnected
	}
}

// DismissLocal removes the session immediately, before any server
// acknowledgment, and returns the removed record so the caller can restore it
// if the dismissal is never confirmed.
func (c *Cache) DismissLocal(id string) (*session.Session, bool) {
	i := c.find(id)
	if i < 0 {
		return nil, false
	}
	removed := c.sessions[i]
	c.remove(id)
	return removed, true
}

// Restore reinserts a previously removed session at its creation-order
// position. A record with the same id already in the cache wins.
func (c *Cache) Restore(s *session.Session) {
	if s == nil || s.ID == "" || c.find(s.ID) >= 0 {
		return
	}
	at := len(c.sessions)
	for i, existing := range c.sessions {
		if s.CreatedAt.After(existing.CreatedAt) {
			at = i
			break
		}
	}
	c.sessions = append(c.sessions[:at], append([]*session.Session{s}, c.sessions[at:]...)...)
}

// Focus opens the detail view on a session. Returns false if the id is unknown.
func (c *Cache) Focus(id string) bool {
	if c.find(id) < 0 {
		return false
	}
	c.focusedID = id
	return true
}

// Blur closes the detail view
func (c *Cache) Blur() {
	c.focusedID = ""
}

// FocusedID returns the id of the session whose detail view is open, or ""
func (c *Cache) FocusedID() string {
	return c.focusedID
}

// SendingID returns the id of the session with an in-flight respond, or ""
func (c *Cache) SendingID() string {
	return c.sendingID
}

func (c *Cache) setSending(id string) {
	c.sendingID = id
}

// Get returns a copy of the session with the given id
func (c *Cache) Get(id string) (session.Session, bool) {
	if i := c.find(id); i >= 0 {
		return *c.sessions[i], true
	}
	return session.Session{}, false
}

// Len returns the number of cached sessions
func (c *Cache) Len() int {
	return len(c.sessions)
}

// Sessions returns a copy of the cached sessions, most recently created first
func (c *Cache) Sessions() []session.Session {
	out := make([]session.Session, len(c.sessions))
	for i, s := range c.sessions {
		out[i] = *s
	}
	return out
}

func (c *Cache) find(id string) int {
	for i, s := range c.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) remove(id string) {
	i := c.find(id)
	if i < 0 {
		return
	}
	c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
	if c.focusedID == id {
		c.focusedID = ""
	}
	if c.sendingID == id {
		c.sendingID = ""
	}
}
