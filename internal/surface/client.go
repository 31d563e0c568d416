package surface

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afklabs/afk/internal/session"
	"github.com/afklabs/afk/internal/wire"
	"github.com/afklabs/afk/pkg/logger"
)

// ConnState is the connection lifecycle state of a client. It is owned
// exclusively by the client's event loop; everything else reads snapshots.
type ConnState int

const (
	// StateConnecting means a dial is in progress (initial or after a delay)
	StateConnecting ConnState = iota
	// StateConnected means the channel is open and keepalive is running
	StateConnected
	// StateDisconnected means the channel is down and a reconnect is scheduled
	StateDisconnected
	// StateReconnecting means the reconnect delay elapsed and a dial is imminent
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// View is a consistent snapshot of everything a renderer needs: connection
// state, the session list (most recently created first), which detail view is
// open, which session has an in-flight respond, and the last server-reported
// error (non-blocking indicator, cleared on the next snapshot).
type View struct {
	State     ConnState
	Sessions  []session.Session
	FocusedID string
	SendingID string
	LastError string
}

type eventKind int

const (
	evFrame eventKind = iota
	evClosed
	evReconnect
	evUnlock
	evActionTimeout
)

// event is anything the event loop must react to: an inbound frame, a closed
// transport, or a fired timer. Reader goroutines and timer callbacks only ever
// post events; all mutation happens on the loop.
type event struct {
	kind eventKind
	gen  int    // connection generation for frame/close events
	data []byte // raw frame payload
	id   string // session id for unlock/timeout events
	seq  int    // pending-action sequence for timeout events
}

type actionKind int

const (
	actionRespond actionKind = iota
	actionDismiss
)

// pendingAction tracks one optimistic respond/dismiss awaiting its confirming
// delta. On timeout the optimistic mutation is rolled back instead of silently
// diverging; the next init snapshot reconciles everything regardless.
type pendingAction struct {
	kind    actionKind
	seq     int
	removed *session.Session // dismissed record, kept for rollback
	timeout *time.Timer
	unlock  *time.Timer // respond only: force-closes the detail view
}

func (a *pendingAction) stop() {
	if a.timeout != nil {
		a.timeout.Stop()
	}
	if a.unlock != nil {
		a.unlock.Stop()
	}
}

// Client keeps a local view of pending sessions consistent with the server
// despite connection drops and concurrent updates from other control surfaces.
// It owns the websocket and the cache; a single event loop serializes frame
// handling, timers, and user actions, so no concurrent mutation is possible.
type Client struct {
	cfg    Config
	logger *logger.Logger
	dialer *websocket.Dialer

	// Owned by the event loop, never touched elsewhere
	cache     *Cache
	pending   map[string]*pendingAction
	actionSeq int
	backoff   *backoff
	state     ConnState
	conn      *websocket.Conn
	connGen   int
	lastError string

	keepalive  *time.Ticker
	keepaliveC <-chan time.Time
	reconnect  *time.Timer

	events  chan event
	actions chan func()
	done    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	viewMu sync.RWMutex
	view   View
}

// NewClient creates a control-surface client. Nothing connects until Start.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:    cfg,
		logger: log.Named("surface"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		cache:   NewCache(),
		pending: make(map[string]*pendingAction),
		backoff: newBackoff(
			cfg.ReconnectInitialDelay,
			cfg.ReconnectMaxDelay,
			cfg.ReconnectMultiplier,
			cfg.ReconnectJitter,
		),
		state:   StateDisconnected,
		events:  make(chan event, 64),
		actions: make(chan func(), 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.view = c.snapshot()
	return c, nil
}

// Start launches the event loop and the first connection attempt
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
}

// Stop tears the client down: every timer is cleared and the channel is closed
// only if it is actually open. Blocks until the event loop has exited.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	if c.started.Load() {
		<-c.stopped
	}
}

// Connect requests a connection attempt. A no-op while already connected or
// connecting.
func (c *Client) Connect() {
	c.do(c.connect)
}

// Respond delivers a response for a session. The cache is not mutated; a
// transient sending flag locks the session and the detail view force-closes
// after the configured unlock delay whether or not the server has confirmed.
func (c *Client) Respond(id, response string) {
	c.do(func() {
		if _, ok := c.cache.Get(id); !ok {
			c.logger.Debug("Respond for unknown session ignored", logger.String("session_id", id))
			return
		}
		if c.cache.SendingID() != "" {
			c.logger.Debug("Respond ignored, another respond in flight",
				logger.String("session_id", id),
				logger.String("sending_id", c.cache.SendingID()))
			return
		}
		c.cache.setSending(id)
		c.send(&wire.Frame{Type: wire.TypeRespond, SessionID: id, Response: response})
		a := c.addPending(id, actionRespond, nil)
		a.unlock = time.AfterFunc(c.cfg.RespondUnlockDelay, func() {
			c.post(event{kind: evUnlock, id: id})
		})
		c.publish()
	})
}

// Dismiss removes a session from the cache immediately, before any server
// acknowledgment, and tells the server. If no confirming delta arrives within
// the action timeout the record is restored.
func (c *Client) Dismiss(id string) {
	c.do(func() {
		removed, ok := c.cache.DismissLocal(id)
		if !ok {
			return
		}
		c.addPending(id, actionDismiss, removed)
		c.send(&wire.Frame{Type: wire.TypeDismiss, SessionID: id})
		c.publish()
	})
}

// Focus opens the detail view on a session
func (c *Client) Focus(id string) {
	c.do(func() {
		if c.cache.Focus(id) {
			c.publish()
		}
	})
}

// Blur closes the detail view
func (c *Client) Blur() {
	c.do(func() {
		c.cache.Blur()
		c.publish()
	})
}

// View returns the latest published snapshot
func (c *Client) View() View {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view
}

// State returns the latest published connection state
func (c *Client) State() ConnState {
	return c.View().State
}

// Sessions returns the latest published session list
func (c *Client) Sessions() []session.Session {
	return c.View().Sessions
}

// run is the event loop. Every cache mutation and every state transition
// happens here, one at a time.
func (c *Client) run() {
	defer close(c.stopped)

	c.connect()

	for {
		select {
		case <-c.done:
			c.teardown()
			return
		case ev := <-c.events:
			c.handleEvent(ev)
		case fn := <-c.actions:
			fn()
		case <-c.keepaliveC:
			if c.state == StateConnected {
				c.send(&wire.Frame{Type: wire.TypePing})
			}
		}
	}
}

// do runs fn on the event loop, unless the client is stopping
func (c *Client) do(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// post queues an event for the loop, unless the client is stopping
func (c *Client) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) handleEvent(ev event) {
	switch ev.kind {
	case evFrame:
		if ev.gen != c.connGen {
			return // frame from a superseded connection
		}
		c.handleFrame(ev.data)
	case evClosed:
		c.handleClosed(ev.gen)
	case evReconnect:
		c.reconnect = nil
		c.setState(StateReconnecting)
		c.connect()
	case evUnlock:
		if c.cache.SendingID() == ev.id {
			c.cache.setSending("")
		}
		if c.cache.FocusedID() == ev.id {
			c.cache.Blur()
		}
		c.publish()
	case evActionTimeout:
		c.expireAction(ev.id, ev.seq)
	}
}

// connect dials the server. A request while already connected or connecting is
// a no-op. The loop suspends for the duration of the dial; that is the only
// network wait outside the reader goroutine.
func (c *Client) connect() {
	if c.state == StateConnected || c.state == StateConnecting {
		c.logger.Debug("Connect ignored", logger.String("state", c.state.String()))
		return
	}
	// A pending reconnect timer must not fire into the connection made here
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.setState(StateConnecting)
	c.connGen++
	gen := c.connGen

	c.logger.Info("Opening control-surface channel", logger.String("url", c.cfg.URL))
	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("Failed to open control-surface channel",
			logger.Error(err),
			logger.String("url", c.cfg.URL))
		c.handleClosed(gen)
		return
	}

	c.conn = conn
	c.backoff.reset()
	c.startKeepalive()
	c.setState(StateConnected)

	go c.readPump(conn, gen)
}

// readPump moves inbound frames from the socket to the event loop. It owns no
// state; a read error just reports the close and exits.
func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(event{kind: evClosed, gen: gen})
			return
		}
		c.post(event{kind: evFrame, gen: gen, data: data})
	}
}

// handleClosed transitions to Disconnected and schedules exactly one reconnect.
// Transport failure is never fatal.
func (c *Client) handleClosed(gen int) {
	if gen != c.connGen {
		return // close of a superseded connection
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopKeepalive()
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.reconnect != nil {
		return // one timer per close event, never two
	}
	delay := c.backoff.next()
	c.logger.Info("Scheduling reconnect", logger.Duration("delay", delay))
	c.reconnect = time.AfterFunc(delay, func() {
		c.post(event{kind: evReconnect})
	})
}

func (c *Client) startKeepalive() {
	c.stopKeepalive()
	c.keepalive = time.NewTicker(c.cfg.KeepaliveInterval)
	c.keepaliveC = c.keepalive.C
}

func (c *Client) stopKeepalive() {
	if c.keepalive != nil {
		c.keepalive.Stop()
		c.keepalive = nil
		c.keepaliveC = nil
	}
}

// handleFrame applies one inbound frame. A frame that fails to decode is
// dropped with a log line; the connection stays up.
func (c *Client) handleFrame(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", logger.Error(err))
		return
	}

	switch frame.Type {
	case wire.TypePing:
		c.send(&wire.Frame{Type: wire.TypePong})

	case wire.TypePong:
		// inert

	case wire.TypeInit:
		// Full snapshot: discard everything, including unconfirmed optimistic
		// actions. The authority's view wins.
		c.clearPending()
		c.cache.ApplyInit(frame.Sessions)
		c.lastError = ""
		c.logger.Info("Received session snapshot", logger.Int("session_count", c.cache.Len()))
		c.publish()

	case wire.TypeNewSession:
		c.cache.ApplyNewSession(frame.Session)
		c.publish()

	case wire.TypeSessionResponded:
		c.resolvePending(frame.SessionID)
		if c.cache.SendingID() == frame.SessionID {
			c.cache.setSending("")
		}
		c.cache.ApplyResponded(frame.SessionID)
		c.publish()

	case wire.TypeSessionDismissed:
		c.resolvePending(frame.SessionID)
		c.cache.ApplyDismissed(frame.SessionID)
		c.publish()

	case wire.TypeSessionDisconnected:
		c.cache.ApplyDisconnected(frame.SessionID)
		c.publish()

	case wire.TypeError:
		c.logger.Warn("Server reported error", logger.String("message", frame.Message))
		c.lastError = frame.Message
		c.publish()

	default:
		c.logger.Debug("Ignoring unknown frame type", logger.String("type", frame.Type))
	}
}

// send writes a frame on the current connection, fire and forget. There is no
// correlation id and no retry; a write error is logged and the read side will
// notice the dead transport.
func (c *Client) send(frame *wire.Frame) {
	if c.conn == nil {
		c.logger.Debug("Dropping outbound frame, not connected", logger.String("type", frame.Type))
		return
	}
	data, err := wire.Encode(frame)
	if err != nil {
		c.logger.Error("Failed to encode frame", logger.Error(err), logger.String("type", frame.Type))
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("Failed to send frame",
			logger.Error(err),
			logger.String("type", frame.Type))
	}
}

func (c *Client) addPending(id string, kind actionKind, removed *session.Session) *pendingAction {
	if old, ok := c.pending[id]; ok {
		old.stop()
	}
	c.actionSeq++
	a := &pendingAction{kind: kind, seq: c.actionSeq, removed: removed}
	seq := a.seq
	a.timeout = time.AfterFunc(c.cfg.ActionTimeout, func() {
		c.post(event{kind: evActionTimeout, id: id, seq: seq})
	})
	c.pending[id] = a
	return a
}

func (c *Client) resolvePending(id string) {
	if a, ok := c.pending[id]; ok {
		a.stop()
		delete(c.pending, id)
	}
}

func (c *Client) clearPending() {
	for _, a := range c.pending {
		a.stop()
	}
	c.pending = make(map[string]*pendingAction)
}

// expireAction rolls back an optimistic mutation whose confirming delta never
// arrived: a dismissed record is restored, a locked respond is unlocked.
func (c *Client) expireAction(id string, seq int) {
	a, ok := c.pending[id]
	if !ok || a.seq != seq {
		return // already resolved, or superseded by a newer action
	}
	delete(c.pending, id)

	switch a.kind {
	case actionDismiss:
		c.logger.Warn("Dismiss unacknowledged, restoring session", logger.String("session_id", id))
		c.cache.Restore(a.removed)
	case actionRespond:
		c.logger.Warn("Respond unacknowledged", logger.String("session_id", id))
		if c.cache.SendingID() == id {
			c.cache.setSending("")
		}
	}
	c.publish()
}

func (c *Client) setState(state ConnState) {
	if c.state == state {
		return
	}
	c.logger.Debug("Connection state changed",
		logger.String("from", c.state.String()),
		logger.String("to", state.String()))
	c.state = state
	c.publish()
}

func (c *Client) snapshot() View {
	return View{
		State:     c.state,
		Sessions:  c.cache.Sessions(),
		FocusedID: c.cache.FocusedID(),
		SendingID: c.cache.SendingID(),
		LastError: c.lastError,
	}
}

// publish makes the loop's state readable outside and notifies the renderer
func (c *Client) publish() {
	v := c.snapshot()
	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(v)
	}
}

// teardown clears every timer and closes the channel only if it is actually
// open (a dial in progress is never interrupted by a close).
func (c *Client) teardown() {
	c.stopKeepalive()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.clearPending()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.setState(StateDisconnected)
	c.logger.Info("Control-surface client stopped")
}
