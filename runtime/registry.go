package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"
	"time"
)

// DefaultStatus is the presence status assigned on registration.
const DefaultStatus = "online"

// Session is the registry's record of one live connection. Identity
// fields are set once at registration and immutable afterwards; only the
// presence status changes, always under the registry lock.
type Session struct {
	ConnectionID string
	User         domain.User
	RemoteAddr   string
	ConnectedAt  time.Time
	Sink         contract.EventSink

	status       string
	customStatus string
}

// ConnectionInfo is the point-in-time projection of a session returned
// by snapshots.
type ConnectionInfo struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	RemoteAddr   string    `json:"remoteAddress"`
	ConnectedAt  time.Time `json:"connectedAt"`
	Status       string    `json:"status"`
	CustomStatus string    `json:"customStatus,omitempty"`
}

// ConnectionRegistry is the source of truth for who is online. It keeps
// the user->connection mapping and its inverse under a single lock so a
// reader can never observe one direction without the other.
//
// A user identity maps to at most one live connection: registering a
// second connection for the same user supersedes the first
// (last-connect-wins).
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]string   // user id -> connection id
	byConn map[string]*Session // connection id -> session
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string]string),
		byConn: make(map[string]*Session),
	}
}

// Register inserts both mapping directions, superseding any prior live
// connection for the same user. The superseded session is returned so
// the caller can force-close it; nil when the user was not connected.
func (r *ConnectionRegistry) Register(s *Session) *Session {
	s.status = DefaultStatus

	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *Session
	if prevID, ok := r.byUser[s.User.ID]; ok {
		replaced = r.byConn[prevID]
		delete(r.byConn, prevID)
	}

	r.byUser[s.User.ID] = s.ConnectionID
	r.byConn[s.ConnectionID] = s
	return replaced
}

// Unregister removes both directions for a connection id. Idempotent: a
// second call, or a call for a connection already superseded, is a no-op.
// The removed session is returned when the call actually removed state.
func (r *ConnectionRegistry) Unregister(connectionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connectionID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connectionID)
	if current, ok := r.byUser[s.User.ID]; ok && current == connectionID {
		delete(r.byUser, s.User.ID)
	}
	return s, true
}

// Lookup resolves a user id to its live connection id.
func (r *ConnectionRegistry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[userID]
	return id, ok
}

// Get resolves a connection id to its session.
func (r *ConnectionRegistry) Get(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connectionID]
	return s, ok
}

func (r *ConnectionRegistry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// UpdateStatus records a presence status change for a connection and
// returns the updated projection.
func (r *ConnectionRegistry) UpdateStatus(connectionID, status, customStatus string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connectionID]
	if !ok {
		return ConnectionInfo{}, false
	}
	s.status = status
	s.customStatus = customStatus
	return s.infoLocked(), true
}

// Info returns the projection of a single connection.
func (r *ConnectionRegistry) Info(connectionID string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byConn[connectionID]
	if !ok {
		return ConnectionInfo{}, false
	}
	return s.infoLocked(), true
}

// Snapshot returns a point-in-time list of all live connections.
func (r *ConnectionRegistry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s.infoLocked())
	}
	return out
}

// Sessions returns the live sessions themselves, for fan-out. The slice
// is a snapshot; the sinks stay valid even if a session is unregistered
// concurrently, their Consume just starts failing.
func (r *ConnectionRegistry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	return out
}

// Counts reports connected-user and live-connection totals.
func (r *ConnectionRegistry) Counts() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.byConn)
}

// infoLocked must be called with at least a read lock held.
func (s *Session) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		ConnectionID: s.ConnectionID,
		UserID:       s.User.ID,
		Username:     s.User.Username,
		RemoteAddr:   s.RemoteAddr,
		ConnectedAt:  s.ConnectedAt,
		Status:       s.status,
		CustomStatus: s.customStatus,
	}
}
