package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"
)

// Connection represents a single WebSocket client with its authentication
// state and a write mutex for serializing outbound frames. Identity fields
// are empty until the client completes login/register/guest_join/resume.
type Connection struct {
	ID        string // connection ID (UUID), distinct from session ID
	Conn      net.Conn
	IP        string
	CreatedAt time.Time

	writeMu  sync.Mutex
	limiter  *rate.Limiter // inbound frame throttle
	lastPing atomic64Time

	mu         sync.RWMutex
	identityID string
	username   string
	sessionID  string
	guest      bool
	threads    map[string]struct{} // thread subscriptions held by this connection
}

// atomic64Time guards LastPing updates from the read loop and heartbeat.
type atomic64Time struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64Time) Set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64Time) Get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// Touch records inbound activity for heartbeat accounting.
func (c *Connection) Touch() { c.lastPing.Set(time.Now()) }

// LastActivity returns the time of the last inbound frame.
func (c *Connection) LastActivity() time.Time { return c.lastPing.Get() }

// Allow reports whether the inbound frame budget permits another frame.
func (c *Connection) Allow() bool { return c.limiter.Allow() }

// Authenticate binds an identity to the connection.
func (c *Connection) Authenticate(identityID, username, sessionID string, guest bool) {
	c.mu.Lock()
	c.identityID = identityID
	c.username = username
	c.sessionID = sessionID
	c.guest = guest
	c.mu.Unlock()
}

// ClearAuth detaches the identity, used on logout.
func (c *Connection) ClearAuth() {
	c.mu.Lock()
	c.identityID = ""
	c.username = ""
	c.sessionID = ""
	c.guest = false
	c.threads = make(map[string]struct{})
	c.mu.Unlock()
}

// Identity returns the bound identity ID, or "" when unauthenticated.
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identityID
}

// Username returns the bound username.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// SessionID returns the bound session ID.
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Guest reports whether the bound identity is a guest.
func (c *Connection) Guest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guest
}

// JoinThread records a thread subscription on this connection.
func (c *Connection) JoinThread(threadID string) {
	c.mu.Lock()
	if c.threads == nil {
		c.threads = make(map[string]struct{})
	}
	c.threads[threadID] = struct{}{}
	c.mu.Unlock()
}

// LeaveThread drops a thread subscription.
func (c *Connection) LeaveThread(threadID string) {
	c.mu.Lock()
	delete(c.threads, threadID)
	c.mu.Unlock()
}

// Threads returns a snapshot of the connection's thread subscriptions.
func (c *Connection) Threads() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.threads))
	for id := range c.threads {
		out = append(out, id)
	}
	return out
}

// WriteMessage sends a WebSocket text frame. The write mutex ensures
// concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Manager is a thread-safe registry mapping connection IDs and identity
// IDs to live connections. One identity may hold several connections
// (multiple tabs); events addressed to an identity fan out to all of them.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Connection
	byIdentity map[string]map[string]*Connection // identity_id -> conn_id -> conn
}

// NewManager creates an empty connection manager.
func NewManager() *Manager {
	return &Manager{
		byID:       make(map[string]*Connection),
		byIdentity: make(map[string]map[string]*Connection),
	}
}

// Add registers a new (unauthenticated) connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	m.byID[conn.ID] = conn
	m.mu.Unlock()
}

// Bind indexes a connection under its authenticated identity.
func (m *Manager) Bind(conn *Connection, identityID string) {
	m.mu.Lock()
	set := m.byIdentity[identityID]
	if set == nil {
		set = make(map[string]*Connection)
		m.byIdentity[identityID] = set
	}
	set[conn.ID] = conn
	m.mu.Unlock()
}

// Unbind drops a connection's identity index entry. Returns the number of
// connections the identity still holds.
func (m *Manager) Unbind(conn *Connection, identityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byIdentity[identityID]
	if set == nil {
		return 0
	}
	delete(set, conn.ID)
	if len(set) == 0 {
		delete(m.byIdentity, identityID)
		return 0
	}
	return len(set)
}

// Remove removes and closes a connection. Returns true if it was present.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	conn, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
		if ident := conn.Identity(); ident != "" {
			if set := m.byIdentity[ident]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(m.byIdentity, ident)
				}
			}
		}
	}
	m.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for an ID, or nil.
func (m *Manager) Get(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id]
}

// ForIdentity returns all live connections bound to an identity.
func (m *Manager) ForIdentity(identityID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byIdentity[identityID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// All returns a snapshot of every live connection.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out
}

// Broadcast sends a frame to every connection. Write errors are ignored;
// dead connections are reaped by the heartbeat.
func (m *Manager) Broadcast(data []byte) {
	for _, c := range m.All() {
		_ = c.WriteMessage(data)
	}
}
