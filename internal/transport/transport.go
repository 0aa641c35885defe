// Package transport is the event-framed websocket and long-polling
// transport manager: it owns the HTTP upgrade endpoint, synthesizes the
// internal disconnect pseudo-event, and relays every inbound/outbound
// frame between a peer and its session.Session. Grounded on the teacher's
// services/mesh/internal/transport/ws/transport.go (TransportManager,
// TransportConfig, upgrader construction, ping ticker, handleWebSocket),
// generalized from virtual-link multiplexing to one session per
// connection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SamYueHW/advancedReport-server/internal/health"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
	"github.com/SamYueHW/advancedReport-server/internal/session"
)

// Frame is one wire message: an event name plus its payload fields.
type Frame struct {
	Event  string                 `json:"event"`
	Fields map[string]interface{} `json:"fields"`
}

// Config holds every transport tunable. Mirrors the teacher's
// TransportConfig field-for-field, renamed to the bridge's own
// environment variable names.
type Config struct {
	ListenAddr         string
	ReadBufferSize     int
	WriteBufferSize    int
	MaxMessageSize     int64
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	PongWait           time.Duration
	PingPeriod         time.Duration
	MaxConnections     int
	DisableCompression bool

	// PollSessionTimeout is how long an idle long-polling session is kept
	// registered before it is reaped.
	PollSessionTimeout time.Duration
}

// DefaultConfig mirrors the teacher's DefaultTransportConfig, with sizes
// and timeouts overridable from internal/config.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":3031",
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
		MaxMessageSize:     10_000_000,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		PongWait:           60 * time.Second,
		PingPeriod:         25 * time.Second,
		MaxConnections:     1000,
		PollSessionTimeout: 90 * time.Second,
	}
}

// SessionFactory builds a new session.Session bound to sender. Supplied by
// the caller so the transport layer has no dependency on the service
// wiring (tenant, store, dispatcher) that session.Config needs.
type SessionFactory func(sender session.Sender) *session.Session

// Manager serves the /socket websocket upgrade endpoint and the
// /socket/poll long-polling fallback, each backed by one session.Session
// per connection.
type Manager struct {
	config     Config
	logger     *logger.Logger
	newSession SessionFactory
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	wsConns int
	polls   map[string]*pollSession
	checker *health.Checker

	ctx    context.Context
	cancel context.CancelFunc
	server *http.Server
}

// NewManager constructs a Manager. It opens no sockets itself; call
// Start to begin listening.
func NewManager(cfg Config, newSession SessionFactory, log *logger.Logger) *Manager {
	m := &Manager{
		config:     cfg,
		logger:     log,
		newSession: newSession,
		polls:      make(map[string]*pollSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: !cfg.DisableCompression,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// WithHealthChecker attaches a health.Checker served at /healthz. Optional;
// Start runs without it if never called.
func (m *Manager) WithHealthChecker(checker *health.Checker) *Manager {
	m.checker = checker
	return m
}

// Start begins listening on cfg.ListenAddr. It returns once the listener
// is registered; ListenAndServe runs in its own goroutine.
func (m *Manager) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", m.handleSocket)
	mux.HandleFunc("/socket/poll/connect", m.handlePollConnect)
	mux.HandleFunc("/socket/poll/send", m.handlePollSend)
	mux.HandleFunc("/socket/poll/recv", m.handlePollRecv)
	mux.HandleFunc("/healthz", m.handleHealth)

	m.server = &http.Server{
		Addr:         m.config.ListenAddr,
		Handler:      mux,
		ReadTimeout:  m.config.HandshakeTimeout,
		WriteTimeout: m.config.WriteTimeout,
	}

	go m.reapIdlePolls()

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("transport server stopped: %v", err)
		}
	}()

	m.logger.Info("transport listening on %s", m.config.ListenAddr)
	return nil
}

// Stop shuts down the HTTP server and closes every tracked poll session.
func (m *Manager) Stop() error {
	m.cancel()

	m.mu.Lock()
	for _, p := range m.polls {
		p.sender.Close()
	}
	m.polls = make(map[string]*pollSession)
	m.mu.Unlock()

	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down transport server: %w", err)
	}
	return nil
}

// handleSocket upgrades one connection and runs its read loop until the
// peer disconnects or a read error occurs, at which point the internal
// disconnect pseudo-event is delivered to the session.
func (m *Manager) handleSocket(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	atLimit := m.wsConns >= m.config.MaxConnections
	m.mu.RUnlock()
	if atLimit {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	m.mu.Lock()
	m.wsConns++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.wsConns--
		m.mu.Unlock()
	}()

	conn.SetReadLimit(m.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.config.PongWait))
		return nil
	})

	sender := &wsSender{conn: conn, writeTimeout: m.config.WriteTimeout}
	sess := m.newSession(sender)

	pingDone := make(chan struct{})
	go m.pingLoop(conn, pingDone)
	defer close(pingDone)

	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.HandleEvent(context.Background(), "disconnect", nil)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warn("socket %s: malformed frame: %v", sess.SocketID, err)
			continue
		}
		sess.HandleEvent(r.Context(), frame.Event, frame.Fields)
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.config.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.config.WriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// wsSender implements session.Sender over one websocket connection,
// serializing writes behind a mutex since gorilla/websocket connections
// are not safe for concurrent writers.
type wsSender struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool
}

func (w *wsSender) Send(event string, fields map[string]interface{}) error {
	data, err := json.Marshal(Frame{Event: event, Fields: fields})
	if err != nil {
		return fmt.Errorf("marshaling frame %q: %w", event, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsSender) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

// pollSession is one long-polling peer's queued-outbox state.
type pollSession struct {
	session    *session.Session
	sender     *pollSender
	lastActive time.Time
}

// pollSender implements session.Sender by appending to an in-memory
// outbox drained by /socket/poll/recv, for peers that cannot upgrade to a
// websocket.
type pollSender struct {
	mu     sync.Mutex
	outbox []Frame
	closed bool
}

func (p *pollSender) Send(event string, fields map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.outbox = append(p.outbox, Frame{Event: event, Fields: fields})
	return nil
}

func (p *pollSender) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *pollSender) drain() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbox) == 0 {
		return nil
	}
	frames := p.outbox
	p.outbox = nil
	return frames
}

// handlePollConnect registers a new long-polling session and returns its
// id, which the peer must supply on every subsequent send/recv call.
func (m *Manager) handlePollConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sender := &pollSender{}
	sess := m.newSession(sender)
	sessionID := uuid.NewString()

	m.mu.Lock()
	m.polls[sessionID] = &pollSession{session: sess, sender: sender, lastActive: time.Now()}
	m.mu.Unlock()

	writeJSON(w, map[string]interface{}{"sessionId": sessionID, "socketId": sess.SocketID})
}

// handlePollSend accepts one frame from a long-polling peer and routes it
// to the matching session.
func (m *Manager) handlePollSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		SessionID string                 `json:"sessionId"`
		Event     string                 `json:"event"`
		Fields    map[string]interface{} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	p, ok := m.lookupPoll(body.SessionID)
	if !ok {
		http.Error(w, "unknown poll session", http.StatusNotFound)
		return
	}

	p.session.HandleEvent(r.Context(), body.Event, body.Fields)
	writeJSON(w, map[string]interface{}{"success": true})
}

// handlePollRecv drains and returns every frame queued for a
// long-polling peer since its last recv call.
func (m *Manager) handlePollRecv(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	p, ok := m.lookupPoll(sessionID)
	if !ok {
		http.Error(w, "unknown poll session", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{"frames": p.sender.drain()})
}

func (m *Manager) lookupPoll(sessionID string) (*pollSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[sessionID]
	if ok {
		p.lastActive = time.Now()
	}
	return p, ok
}

// reapIdlePolls closes and drops any long-polling session that has not
// sent or received for longer than PollSessionTimeout, synthesizing the
// disconnect pseudo-event so its cancellation runs the same way a dropped
// websocket's does.
func (m *Manager) reapIdlePolls() {
	interval := m.config.PollSessionTimeout / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepIdlePolls()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepIdlePolls() {
	cutoff := time.Now().Add(-m.config.PollSessionTimeout)

	m.mu.Lock()
	var expired []*pollSession
	for id, p := range m.polls {
		if p.lastActive.Before(cutoff) {
			expired = append(expired, p)
			delete(m.polls, id)
		}
	}
	m.mu.Unlock()

	for _, p := range expired {
		p.session.HandleEvent(context.Background(), "disconnect", nil)
		p.sender.Close()
	}
}

// handleHealth reports the rolled-up status of every registered health
// check, or a bare "healthy" if no checker was attached.
func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if m.checker == nil {
		writeJSON(w, map[string]interface{}{"status": health.StatusHealthy})
		return
	}

	status := m.checker.OverallStatus()
	if status != health.StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]interface{}{
		"status": status,
		"checks": m.checker.AllChecks(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
