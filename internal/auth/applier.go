// Package auth implements C1, the credential store and auth applier: it
// stores per-session Credentials and knows how to turn them into HTTP
// request headers for an outbound tool call, including acquiring and
// caching OAuth2 client-credentials tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// ErrBadCredentials is returned when a Credentials value is malformed for
// its declared Type (missing a required field).
var ErrBadCredentials = errors.New("auth: bad credentials for declared type")

// ErrAuthAcquisitionFailed wraps a failure to acquire an OAuth2 token.
var ErrAuthAcquisitionFailed = errors.New("auth: token acquisition failed")

const defaultAPIKeyHeader = "X-API-Key"

// Applier applies stored Credentials to an outbound *http.Request for a
// given tool descriptor, per §4.1's per-variant header rules.
type Applier struct {
	oauth *OAuth2ClientCredentialsSource
}

// NewApplier constructs an Applier. httpClient is the shared client used
// to reach OAuth2 token endpoints (§5's shared HTTP client design).
func NewApplier(httpClient *http.Client) *Applier {
	return &Applier{oauth: NewOAuth2ClientCredentialsSource(httpClient)}
}

// Apply mutates req in place to carry the credentials required by tool,
// using cached state on sess for OAuth2 token reuse. It never performs
// network I/O except for OAuth2 token acquisition on a cache miss.
func (a *Applier) Apply(req *http.Request, tool *models.ToolDescriptor, sess *models.Session) error {
	creds := sess.Credentials()
	authType := effectiveAuthType(tool, creds)

	switch authType {
	case models.AuthNone, "":
		return nil

	case models.AuthBearerToken:
		if creds == nil || creds.BearerToken == "" {
			return fmt.Errorf("%w: bearer_token empty", ErrBadCredentials)
		}
		header := tool.BearerTokenHeader
		if header == "" {
			header = "Authorization"
		}
		if header == "Authorization" {
			req.Header.Set(header, "Bearer "+creds.BearerToken)
		} else {
			req.Header.Set(header, creds.BearerToken)
		}
		return nil

	case models.AuthBasicAuth:
		if creds == nil || creds.Username == "" {
			return fmt.Errorf("%w: username empty", ErrBadCredentials)
		}
		req.SetBasicAuth(creds.Username, creds.Password)
		return nil

	case models.AuthAPIKey:
		if creds == nil || creds.APIKey == "" {
			return fmt.Errorf("%w: api_key empty", ErrBadCredentials)
		}
		header := creds.APIKeyHeader
		if header == "" {
			header = tool.APIKeyHeader
		}
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, creds.APIKey)
		return nil

	case models.AuthOAuth2ClientCreds:
		token, err := a.oauth.TokenFor(req.Context(), tool, creds, sess)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case models.AuthCustom:
		if creds == nil || len(creds.CustomHeaders) == 0 {
			return fmt.Errorf("%w: custom_headers empty", ErrBadCredentials)
		}
		for name, missing := range missingCustomHeaders(tool, creds) {
			if missing {
				return fmt.Errorf("%w: missing required custom header %q", ErrBadCredentials, name)
			}
		}
		for name, value := range creds.CustomHeaders {
			req.Header.Add(name, value)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown auth type %q", ErrBadCredentials, authType)
	}
}

// effectiveAuthType prefers the tool descriptor's declared auth type; it
// falls back to the credential's own Type only when the descriptor leaves
// it unset, which lets a tool opt out of auth (AuthNone) regardless of
// what credentials a session happens to hold.
func effectiveAuthType(tool *models.ToolDescriptor, creds *models.Credentials) models.AuthType {
	if tool != nil && tool.AuthType != "" {
		return tool.AuthType
	}
	if creds != nil {
		return creds.Type
	}
	return models.AuthNone
}

func missingCustomHeaders(tool *models.ToolDescriptor, creds *models.Credentials) map[string]bool {
	result := make(map[string]bool, len(tool.CustomAuthHeaderNames))
	for _, name := range tool.CustomAuthHeaderNames {
		if _, ok := creds.CustomHeaders[name]; !ok {
			result[name] = true
		}
	}
	return result
}

// InvalidateOnUnauthorized drops a session's cached OAuth2 token after a
// 401 response, so the next attempt reacquires one — the retry-once rule
// in §4.2.
func InvalidateOnUnauthorized(sess *models.Session) {
	sess.InvalidateOAuth2Token()
}
