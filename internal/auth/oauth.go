package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// OAuth2ClientCredentialsSource acquires and caches OAuth2 access tokens
// for the AuthOAuth2ClientCreds credential variant, using
// golang.org/x/oauth2/clientcredentials for the actual grant exchange. One
// source serves every session; caching itself lives on the per-session
// models.Session record so two sessions with different client secrets
// never share a cached token.
type OAuth2ClientCredentialsSource struct {
	httpClient *http.Client

	// mu serializes acquisition per (tokenURL, clientID) pair so two
	// concurrent tool calls in the same session don't both hit the token
	// endpoint on a cache miss.
	mu      sync.Mutex
	pending map[string]*sync.Mutex
}

// NewOAuth2ClientCredentialsSource constructs a source backed by the given
// shared HTTP client.
func NewOAuth2ClientCredentialsSource(httpClient *http.Client) *OAuth2ClientCredentialsSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth2ClientCredentialsSource{
		httpClient: httpClient,
		pending:    make(map[string]*sync.Mutex),
	}
}

// TokenFor returns a valid access token for tool/creds, reusing sess's
// cached token when it has not yet hit its 0.9*expires_in deadline (§4.1),
// and otherwise acquiring a fresh one via the client-credentials grant.
func (s *OAuth2ClientCredentialsSource) TokenFor(ctx context.Context, tool *models.ToolDescriptor, creds *models.Credentials, sess *models.Session) (string, error) {
	if creds == nil || creds.OAuth2ClientID == "" || creds.OAuth2ClientSecret == "" {
		return "", fmt.Errorf("%w: oauth2 client_id/client_secret required", ErrBadCredentials)
	}

	now := time.Now()
	if cached := sess.CachedOAuth2Token(now); cached != nil {
		return cached.AccessToken, nil
	}

	tokenURL := creds.OAuth2TokenURL
	if tokenURL == "" {
		tokenURL = tool.OAuth2TokenURL
	}
	if tokenURL == "" {
		return "", fmt.Errorf("%w: no oauth2 token url available", ErrBadCredentials)
	}
	scope := creds.OAuth2Scope
	if scope == "" {
		scope = tool.OAuth2Scope
	}

	lock := s.lockFor(tokenURL, creds.OAuth2ClientID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the per-key lock: another goroutine may
	// have refreshed the token for this session while we waited.
	if cached := sess.CachedOAuth2Token(time.Now()); cached != nil {
		return cached.AccessToken, nil
	}

	cfg := &clientcredentials.Config{
		ClientID:     creds.OAuth2ClientID,
		ClientSecret: creds.OAuth2ClientSecret,
		TokenURL:     tokenURL,
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	acquiredAt := time.Now()
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthAcquisitionFailed, err)
	}

	expiresIn := tok.Expiry.Sub(acquiredAt)
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	deadline := acquiredAt.Add(time.Duration(float64(expiresIn) * 0.9))

	sess.SetCachedOAuth2Token(&models.OAuth2Token{
		AccessToken: tok.AccessToken,
		ExpiresAt:   deadline,
	})
	return tok.AccessToken, nil
}

func (s *OAuth2ClientCredentialsSource) lockFor(tokenURL, clientID string) *sync.Mutex {
	key := tokenURL + "|" + clientID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pending[key]
	if !ok {
		l = &sync.Mutex{}
		s.pending[key] = l
	}
	return l
}
