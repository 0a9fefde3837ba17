package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

func newReq(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://example.com/tool", nil)
	require.NoError(t, err)
	return req
}

func TestApply_BearerToken_DefaultHeader(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthBearerToken, BearerToken: "tok123"})

	req := newReq(t)
	err := a.Apply(req, &models.ToolDescriptor{AuthType: models.AuthBearerToken}, sess)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", req.Header.Get("Authorization"))
}

func TestApply_BearerToken_CustomHeaderSkipsBearerPrefix(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthBearerToken, BearerToken: "tok123"})

	req := newReq(t)
	tool := &models.ToolDescriptor{AuthType: models.AuthBearerToken, BearerTokenHeader: "X-Token"}
	err := a.Apply(req, tool, sess)
	require.NoError(t, err)
	assert.Equal(t, "tok123", req.Header.Get("X-Token"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestApply_BearerToken_MissingIsError(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	req := newReq(t)
	err := a.Apply(req, &models.ToolDescriptor{AuthType: models.AuthBearerToken}, sess)
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestApply_BasicAuth(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthBasicAuth, Username: "alice", Password: "hunter2"})

	req := newReq(t)
	err := a.Apply(req, &models.ToolDescriptor{AuthType: models.AuthBasicAuth}, sess)
	require.NoError(t, err)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "hunter2", pass)
}

func TestApply_APIKey_DefaultsToXAPIKeyHeader(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthAPIKey, APIKey: "key-1"})

	req := newReq(t)
	err := a.Apply(req, &models.ToolDescriptor{AuthType: models.AuthAPIKey}, sess)
	require.NoError(t, err)
	assert.Equal(t, "key-1", req.Header.Get("X-API-Key"))
}

func TestApply_APIKey_ToolHeaderOverridesDefault(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthAPIKey, APIKey: "key-1"})

	req := newReq(t)
	tool := &models.ToolDescriptor{AuthType: models.AuthAPIKey, APIKeyHeader: "X-Service-Key"}
	err := a.Apply(req, tool, sess)
	require.NoError(t, err)
	assert.Equal(t, "key-1", req.Header.Get("X-Service-Key"))
}

func TestApply_Custom_AllHeadersSetWhenPresent(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:          models.AuthCustom,
		CustomHeaders: map[string]string{"X-Trace": "abc", "X-Env": "prod"},
	})

	req := newReq(t)
	tool := &models.ToolDescriptor{AuthType: models.AuthCustom, CustomAuthHeaderNames: []string{"X-Trace"}}
	err := a.Apply(req, tool, sess)
	require.NoError(t, err)
	assert.Equal(t, "abc", req.Header.Get("X-Trace"))
	assert.Equal(t, "prod", req.Header.Get("X-Env"))
}

func TestApply_Custom_PreservesPreExistingHeaderWithSameName(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:          models.AuthCustom,
		CustomHeaders: map[string]string{"X-Trace": "abc"},
	})

	req := newReq(t)
	req.Header.Set("X-Trace", "caller-value")
	tool := &models.ToolDescriptor{AuthType: models.AuthCustom}
	err := a.Apply(req, tool, sess)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"caller-value", "abc"}, req.Header.Values("X-Trace"),
		"custom headers must be added alongside, not replace, headers the caller already set")
}

func TestApply_Custom_MissingRequiredHeaderIsError(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:          models.AuthCustom,
		CustomHeaders: map[string]string{"X-Env": "prod"},
	})

	req := newReq(t)
	tool := &models.ToolDescriptor{AuthType: models.AuthCustom, CustomAuthHeaderNames: []string{"X-Trace"}}
	err := a.Apply(req, tool, sess)
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestApply_None_SetsNoHeaders(t *testing.T) {
	a := NewApplier(http.DefaultClient)
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{Type: models.AuthBearerToken, BearerToken: "ignored"})

	req := newReq(t)
	err := a.Apply(req, &models.ToolDescriptor{AuthType: models.AuthNone}, sess)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestApply_OAuth2_AcquiresAndCachesToken(t *testing.T) {
	calls := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	a := NewApplier(tokenSrv.Client())
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:               models.AuthOAuth2ClientCreds,
		OAuth2ClientID:     "client-1",
		OAuth2ClientSecret: "secret-1",
		OAuth2TokenURL:     tokenSrv.URL,
	})

	tool := &models.ToolDescriptor{AuthType: models.AuthOAuth2ClientCreds}

	req1 := newReq(t).WithContext(newReq(t).Context())
	require.NoError(t, a.Apply(req1, tool, sess))
	assert.Equal(t, "Bearer at-1", req1.Header.Get("Authorization"))

	req2 := newReq(t)
	require.NoError(t, a.Apply(req2, tool, sess))
	assert.Equal(t, "Bearer at-1", req2.Header.Get("Authorization"))

	assert.Equal(t, 1, calls, "second call must reuse the cached token, not hit the token endpoint again")
}

func TestInvalidateOnUnauthorized_ForcesReacquisition(t *testing.T) {
	calls := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	a := NewApplier(tokenSrv.Client())
	sess := models.NewSession("s1", time.Now())
	sess.SetCredentials(&models.Credentials{
		Type:               models.AuthOAuth2ClientCreds,
		OAuth2ClientID:     "client-1",
		OAuth2ClientSecret: "secret-1",
		OAuth2TokenURL:     tokenSrv.URL,
	})
	tool := &models.ToolDescriptor{AuthType: models.AuthOAuth2ClientCreds}

	require.NoError(t, a.Apply(newReq(t), tool, sess))
	InvalidateOnUnauthorized(sess)
	require.NoError(t, a.Apply(newReq(t), tool, sess))

	assert.Equal(t, 2, calls, "invalidating must force a fresh acquisition on the next call")
}
