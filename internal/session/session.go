package session

import (
	"sync"

	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/room"
)

// Session is the identity a connection acquires by creating or joining a
// room. The zero value is an unbound session.
type Session struct {
	RoomID   string
	UserID   string
	UserName string
	Room     *room.Room
}

func (s Session) Bound() bool { return s.Room != nil }

// Table maps connection ids onto sessions.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]Session)}
}

// Open registers an unbound session for connID.
func (t *Table) Open(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[connID] = Session{}
}

func (t *Table) Get(connID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[connID]
	return s, ok
}

// Bind attaches an identity to connID. A session binds at most once.
func (t *Table) Bind(connID string, s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.sessions[connID]
	if !ok {
		return poker.ErrNotInRoom
	}
	if cur.Bound() {
		return poker.ErrAlreadyInRoom
	}
	t.sessions[connID] = s
	return nil
}

// Close drops connID and returns its last session.
func (t *Table) Close(connID string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[connID]
	delete(t.sessions, connID)
	return s
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
