package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2Token_Expired(t *testing.T) {
	now := time.Now()
	var nilTok *OAuth2Token
	assert.True(t, nilTok.Expired(now))

	empty := &OAuth2Token{}
	assert.True(t, empty.Expired(now))

	fresh := &OAuth2Token{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	assert.False(t, fresh.Expired(now))

	stale := &OAuth2Token{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, stale.Expired(now))
}

func TestSession_SetCredentials_ClearsCachedToken(t *testing.T) {
	sess := NewSession("s1", time.Now())
	sess.SetCachedOAuth2Token(&OAuth2Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})
	require.NotNil(t, sess.CachedOAuth2Token(time.Now()))

	sess.SetCredentials(&Credentials{Type: AuthAPIKey, APIKey: "k"})
	assert.Nil(t, sess.CachedOAuth2Token(time.Now()))
}

func TestSession_ClearCredentials_RemovesBoth(t *testing.T) {
	sess := NewSession("s1", time.Now())
	sess.SetCredentials(&Credentials{Type: AuthAPIKey, APIKey: "k"})
	sess.SetCachedOAuth2Token(&OAuth2Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	sess.ClearCredentials()
	assert.Nil(t, sess.Credentials())
	assert.Nil(t, sess.CachedOAuth2Token(time.Now()))
}

func TestSession_HistoryReturnsIndependentSnapshot(t *testing.T) {
	sess := NewSession("s1", time.Now())
	sess.AppendMessage(&Message{Content: "one"})

	snapshot := sess.History()
	snapshot[0] = &Message{Content: "mutated"}

	require.Len(t, sess.History(), 1)
	assert.Equal(t, "one", sess.History()[0].Content)
}

func TestSession_MetricsIncrements(t *testing.T) {
	sess := NewSession("s1", time.Now())
	sess.IncToolCalls(2)
	sess.IncRetries(1)
	sess.IncEvictions(3)
	sess.IncTurnsCompleted()

	m := sess.Metrics()
	assert.Equal(t, int64(2), m.ToolCallsIssued)
	assert.Equal(t, int64(1), m.ToolRetries)
	assert.Equal(t, int64(3), m.Evictions)
	assert.Equal(t, int64(1), m.TurnsCompleted)
}

func TestSession_TurnGate_SerializesProcessing(t *testing.T) {
	sess := NewSession("s1", time.Now())
	require.True(t, sess.TryLockTurn())
	assert.False(t, sess.TryLockTurn(), "a second concurrent turn must not acquire the gate")
	sess.UnlockTurn()
	assert.True(t, sess.TryLockTurn())
	sess.UnlockTurn()
}

func TestSession_MarshalJSON_OmitsCredentialsAndToken(t *testing.T) {
	sess := NewSession("s1", time.Now())
	sess.SetCredentials(&Credentials{Type: AuthAPIKey, APIKey: "super-secret"})

	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret")
	assert.Contains(t, string(raw), `"state":"open_unauth"`)
}
