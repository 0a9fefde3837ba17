// Package session implements C5, the session orchestrator: the
// per-connection state machine that dispatches inbound frames and drives
// the multi-turn tool loop, generalizing the teacher's
// internal/gateway/ws_control_plane.go connection-handling shape onto
// this spec's four-state (OpenUnauth/OpenAuth/Processing/Closed) machine
// and §4.5's turn algorithm.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Table is the process-local, in-memory set of live sessions — there is
// no persistent storage per spec.md §1's Non-goals.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*models.Session)}
}

// Create allocates a new session with an opaque, unguessable id.
func (t *Table) Create(now time.Time) *models.Session {
	sess := models.NewSession(uuid.NewString(), now)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sess.ID] = sess
	return sess
}

// Get looks up a session by id.
func (t *Table) Get(id string) (*models.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove deletes a session from the table — called on channel close or
// idle expiry.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// List returns a snapshot of every live session, for the idle reaper.
func (t *Table) List() []*models.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
