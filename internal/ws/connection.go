package ws

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one authenticated WebSocket client: the user it is bound
// to, the underlying socket, and the transient focused-peer pointer that
// tracks which conversation the user currently has open.
type Connection struct {
	UserID    string    // authenticated user id, fixed at handshake
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established

	lastPing int64 // unix nanos of last client activity, accessed atomically

	focusMu     sync.Mutex
	focusedPeer string // "" = no conversation open

	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// touch records client activity now. Read workers and the heartbeat access
// the timestamp from different goroutines.
func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastPing, time.Now().UnixNano())
}

// LastActive returns the time of the last observed client activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastPing))
}

// SetFocus records the peer whose conversation the user is viewing. An
// empty peer clears the focus.
func (c *Connection) SetFocus(peer string) {
	c.focusMu.Lock()
	c.focusedPeer = peer
	c.focusMu.Unlock()
}

// Focus returns the currently focused peer, or "" when none.
func (c *Connection) Focus() string {
	c.focusMu.Lock()
	defer c.focusMu.Unlock()
	return c.focusedPeer
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Registry is the process-wide map from user identity to live connection.
// It holds at most one entry per user: registering a new connection
// replaces any prior entry (last-write-wins) without forcibly terminating
// the superseded handle — the old socket cleans itself up through its own
// read-failure path. It is owned by the server composition root and passed
// by reference to the delivery router and handshake logic.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Connection // user_id -> live Connection
	byFd   map[int]*Connection    // fd -> Connection (includes superseded handles)
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
	}
}

// Add registers a connection, replacing any prior entry for the same user.
// The replaced connection stays reachable by fd so its teardown path still
// finds it; it just stops being the user's live entry.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byUser[conn.UserID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Remove unregisters a specific connection and closes its socket. The user
// entry is only cleared when it still points at this connection, so
// tearing down a superseded handle never evicts the replacement. Returns
// true if the connection was present, false if it was already gone.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	_, ok := r.byFd[c.Fd]
	if ok {
		delete(r.byFd, c.Fd)
		if r.byUser[c.UserID] == c {
			delete(r.byUser, c.UserID)
		}
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Lookup returns the live connection for a user, or nil when the user is
// not connected. Absence is an expected, normal condition.
func (r *Registry) Lookup(userID string) *Connection {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection registered for the given net.Conn by
// extracting its file descriptor. Returns nil if not found.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// SetFocus updates the focused peer on the user's live entry. It is a
// no-op when the user has no entry.
func (r *Registry) SetFocus(userID, peer string) {
	if conn := r.Lookup(userID); conn != nil {
		conn.SetFocus(peer)
	}
}

// Focus returns the user's focused peer and whether the user has a live
// entry at all.
func (r *Registry) Focus(userID string) (string, bool) {
	conn := r.Lookup(userID)
	if conn == nil {
		return "", false
	}
	return conn.Focus(), true
}

// Send writes a text frame to the user's live connection. When the user
// has no entry it returns false without error: "user unreachable" is a
// normal state, and callers fall back to deferred delivery. Write failures
// on a half-closed socket are logged and reported as delivered=false.
func (r *Registry) Send(userID string, data []byte) bool {
	conn := r.Lookup(userID)
	if conn == nil {
		return false
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: send to user=%s failed: %v", userID, err)
		return false
	}
	return true
}

// Count returns the current number of live entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of every registered connection, including
// superseded handles that have not torn down yet. The returned slice is
// safe to iterate without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byFd))
	for _, conn := range r.byFd {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}

// Clear closes every connection and empties the registry. Called from the
// server's shutdown hook.
func (r *Registry) Clear() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byFd))
	for _, conn := range r.byFd {
		conns = append(conns, conn)
	}
	r.byUser = make(map[string]*Connection)
	r.byFd = make(map[int]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
