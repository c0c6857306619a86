package runtime

import (
	"chat-relay/domain"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordSink captures every frame consumed, for assertions.
type recordSink struct {
	mu        sync.Mutex
	frames    [][]byte
	fail      bool
	closed    bool
	closeCode int
}

func (s *recordSink) Consume(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordSink) Close(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
}

// events returns the event names of all consumed frames, in order.
func (s *recordSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, raw := range s.frames {
		var f domain.Frame
		_ = json.Unmarshal(raw, &f)
		names = append(names, f.Event)
	}
	return names
}

// lastPayload decodes the data of the most recent frame with the given
// event name into out and reports whether one was found.
func (s *recordSink) lastPayload(event string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.frames) - 1; i >= 0; i-- {
		var f domain.Frame
		if err := json.Unmarshal(s.frames[i], &f); err != nil {
			continue
		}
		if f.Event == event {
			_ = json.Unmarshal(f.Data, out)
			return true
		}
	}
	return false
}

func newTestSession(userID, username string, sink *recordSink) *Session {
	return &Session{
		ConnectionID: uuid.NewString(),
		User:         domain.User{ID: userID, Username: username},
		RemoteAddr:   "127.0.0.1",
		ConnectedAt:  time.Now().UTC(),
		Sink:         sink,
	}
}

func TestConnectionRegistry_Register_One_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry()
	session := newTestSession("u1", "alice", &recordSink{})

	// Given no one is connected
	users, connections := registry.Counts()
	req.Zero(users)
	req.Zero(connections)

	// When a connection registers
	replaced := registry.Register(session)

	// Then nothing was superseded and both directions resolve
	req.Nil(replaced)
	req.True(registry.IsOnline("u1"))

	connID, ok := registry.Lookup("u1")
	req.True(ok)
	req.Equal(session.ConnectionID, connID)

	got, ok := registry.Get(session.ConnectionID)
	req.True(ok)
	req.Equal("alice", got.User.Username)

	users, connections = registry.Counts()
	req.Equal(1, users)
	req.Equal(1, connections)
}

func TestConnectionRegistry_Register_Supersedes_Previous_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry()
	first := newTestSession("u1", "alice", &recordSink{})
	second := newTestSession("u1", "alice", &recordSink{})

	// Given a live connection for the user
	req.Nil(registry.Register(first))

	// When the same user registers a second connection
	replaced := registry.Register(second)

	// Then the first is returned as superseded and the user resolves
	// to the second
	req.NotNil(replaced)
	req.Equal(first.ConnectionID, replaced.ConnectionID)

	connID, ok := registry.Lookup("u1")
	req.True(ok)
	req.Equal(second.ConnectionID, connID)

	// And the superseded connection id no longer resolves
	_, ok = registry.Get(first.ConnectionID)
	req.False(ok)

	users, connections := registry.Counts()
	req.Equal(1, users)
	req.Equal(1, connections)
}

func TestConnectionRegistry_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry()
	session := newTestSession("u1", "alice", &recordSink{})
	registry.Register(session)

	// When the connection unregisters twice
	removed, ok := registry.Unregister(session.ConnectionID)
	req.True(ok)
	req.Equal(session.ConnectionID, removed.ConnectionID)

	_, ok = registry.Unregister(session.ConnectionID)

	// Then the second call is a no-op
	req.False(ok)
	req.False(registry.IsOnline("u1"))
}

func TestConnectionRegistry_Unregister_Superseded_Keeps_Current_Mapping(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry()
	first := newTestSession("u1", "alice", &recordSink{})
	second := newTestSession("u1", "alice", &recordSink{})

	// Given the user reconnected and the first connection was superseded
	registry.Register(first)
	registry.Register(second)

	// When the stale first connection finally unregisters
	_, ok := registry.Unregister(first.ConnectionID)

	// Then nothing changes for the live connection
	req.False(ok)
	req.True(registry.IsOnline("u1"))

	connID, _ := registry.Lookup("u1")
	req.Equal(second.ConnectionID, connID)
}

func TestConnectionRegistry_UpdateStatus(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry()
	session := newTestSession("u1", "alice", &recordSink{})
	registry.Register(session)

	// Given the default status on registration
	info, ok := registry.Info(session.ConnectionID)
	req.True(ok)
	req.Equal(DefaultStatus, info.Status)

	// When the status changes
	info, ok = registry.UpdateStatus(session.ConnectionID, "away", "lunch break")

	// Then the projection reflects it
	req.True(ok)
	req.Equal("away", info.Status)
	req.Equal("lunch break", info.CustomStatus)

	snapshot := registry.Snapshot()
	req.Len(snapshot, 1)
	req.Equal("away", snapshot[0].Status)

	// And an unknown connection reports no update
	_, ok = registry.UpdateStatus("missing", "busy", "")
	req.False(ok)
}
