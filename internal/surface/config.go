package surface

import (
	"fmt"
	"strings"
	"time"
)

// Default protocol timings. These mirror the behavior of the original web
// control surface; every one of them can be overridden per client instance.
const (
	DefaultKeepaliveInterval     = 30 * time.Second
	DefaultReconnectInitialDelay = 3 * time.Second
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultReconnectMultiplier   = 2.0
	DefaultReconnectJitter       = 0.2
	DefaultRespondUnlockDelay    = 500 * time.Millisecond
	DefaultActionTimeout         = 10 * time.Second
	DefaultHandshakeTimeout      = 10 * time.Second
)

// Config contains all tunables for a control-surface client. A zero value for
// any timing field selects the default above, so multiple independently tuned
// client instances can coexist.
type Config struct {
	// URL is the control-surface websocket endpoint (ws:// or wss://, path /ws/ui)
	URL string

	// KeepaliveInterval is how often a ping is emitted while connected
	KeepaliveInterval time.Duration

	// Reconnect backoff parameters. The client retries forever; the delay
	// grows from ReconnectInitialDelay by ReconnectMultiplier per attempt,
	// capped at ReconnectMaxDelay, with ReconnectJitter fraction of randomness.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	ReconnectJitter       float64

	// RespondUnlockDelay is how long the sending lock holds (and the detail
	// view stays open) after a respond is sent, independent of any server ack
	RespondUnlockDelay time.Duration

	// ActionTimeout bounds how long an optimistic respond/dismiss waits for
	// its confirming delta before the local mutation is rolled back
	ActionTimeout time.Duration

	// HandshakeTimeout bounds the websocket dial
	HandshakeTimeout time.Duration

	// OnUpdate, if set, is invoked from the client's event loop after every
	// state or cache change with a consistent snapshot. It must not call back
	// into the client and should return quickly.
	OnUpdate func(View)
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		c.ReconnectMaxDelay = c.ReconnectInitialDelay
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		c.ReconnectJitter = DefaultReconnectJitter
	}
	if c.RespondUnlockDelay <= 0 {
		c.RespondUnlockDelay = DefaultRespondUnlockDelay
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("surface: URL is required")
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("surface: URL must use ws:// or wss:// scheme: %s", c.URL)
	}
	return nil
}
