package models

import (
	"encoding/json"
	"sync"
	"time"
)

// SessionState is the Session Orchestrator's (C5) state machine position
// for a single connection, per §4.5.
type SessionState string

const (
	StateOpenUnauth SessionState = "open_unauth"
	StateOpenAuth   SessionState = "open_auth"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// Session is the per-connection record C5 owns: its auth state, its
// conversation history (owned by C3), and its cached OAuth2 token (owned
// by C1). Every mutable field is guarded by mu; callers must never hold mu
// across an I/O call (HTTP tool call, LLM invocation) per §5's
// single-lock-never-held-across-I/O discipline.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.Mutex
	state        SessionState
	lastActivity time.Time
	credentials  *Credentials
	oauth2Token  *OAuth2Token
	history      []*Message

	// processing serializes turns within this session: only one turn may
	// run at a time (§5's per-session serializing gate). A caller that
	// finds this already held applies busy_policy (reject or queue).
	processing sync.Mutex

	metrics SessionMetrics
}

// SessionMetrics is the lightweight per-session counters snapshot exposed
// to the out-of-scope UI, per SPEC_FULL.md's supplemented-features note.
type SessionMetrics struct {
	ToolCallsIssued int64
	ToolRetries     int64
	Evictions       int64
	TurnsCompleted  int64
}

// NewSession creates a session in StateOpenUnauth.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		state:        StateOpenUnauth,
		lastActivity: now,
	}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the connection state.
func (s *Session) SetState(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Touch records activity, resetting the idle-reaper clock.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// IdleSince reports how long it has been since the last recorded activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// SetCredentials stores credentials supplied by an `auth` frame, clearing
// any cached OAuth2 token since the new credentials may name a different
// client.
func (s *Session) SetCredentials(c *Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = c
	s.oauth2Token = nil
}

// ClearCredentials removes stored credentials, as issued by a `logout`
// frame.
func (s *Session) ClearCredentials() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = nil
	s.oauth2Token = nil
}

// Credentials returns the currently stored credentials, or nil.
func (s *Session) Credentials() *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials
}

// CachedOAuth2Token returns the cached token, or nil if absent/expired.
func (s *Session) CachedOAuth2Token(now time.Time) *OAuth2Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oauth2Token.Expired(now) {
		return nil
	}
	return s.oauth2Token
}

// SetCachedOAuth2Token stores a freshly acquired token.
func (s *Session) SetCachedOAuth2Token(tok *OAuth2Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth2Token = tok
}

// InvalidateOAuth2Token drops the cached token, forcing the next tool call
// to reacquire one — used after a 401 response per §4.2's retry-once rule.
func (s *Session) InvalidateOAuth2Token() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth2Token = nil
}

// History returns a snapshot copy of the stored conversation history.
func (s *Session) History() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the stored history wholesale. C3's eviction does not
// call it: eviction shapes only the snapshot sent to the LLM, and the
// stored history is left as appended.
func (s *Session) SetHistory(msgs []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = msgs
}

// AppendMessage appends one message to the stored history.
func (s *Session) AppendMessage(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
}

// Lock/Unlock expose the per-session turn gate to the orchestrator so it
// can implement busy_policy without a second wrapper type.
func (s *Session) TryLockTurn() bool { return s.processing.TryLock() }
func (s *Session) UnlockTurn()       { s.processing.Unlock() }
func (s *Session) LockTurn()         { s.processing.Lock() }

// Metrics returns a copy of the session's counters.
func (s *Session) Metrics() SessionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Session) IncToolCalls(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ToolCallsIssued += n
}

func (s *Session) IncRetries(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ToolRetries += n
}

func (s *Session) IncEvictions(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Evictions += n
}

func (s *Session) IncTurnsCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TurnsCompleted++
}

// MarshalJSON renders the fields safe to expose over the control channel
// (never credentials or the raw token).
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(struct {
		ID        string       `json:"id"`
		State     SessionState `json:"state"`
		CreatedAt time.Time    `json:"created_at"`
	}{s.ID, s.state, s.CreatedAt})
}
