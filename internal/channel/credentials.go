package channel

import (
	"fmt"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// ToCredentials converts an inbound AuthFrame into models.Credentials,
// validating that the variant named by AuthType carries its required
// fields non-empty — the ingestion-time check §3 mandates for the
// Credentials tagged variant.
func ToCredentials(f AuthFrame) (*models.Credentials, error) {
	authType := models.AuthType(f.AuthType)

	creds := &models.Credentials{Type: authType}

	switch authType {
	case models.AuthNone:
		// no required fields
	case models.AuthBearerToken:
		if f.Token == "" {
			return nil, fmt.Errorf("bearer_token requires \"token\"")
		}
		creds.BearerToken = f.Token
	case models.AuthBasicAuth:
		if f.Username == "" || f.Password == "" {
			return nil, fmt.Errorf("basic_auth requires \"username\" and \"password\"")
		}
		creds.Username = f.Username
		creds.Password = f.Password
	case models.AuthAPIKey:
		if f.APIKey == "" {
			return nil, fmt.Errorf("api_key requires \"api_key\"")
		}
		creds.APIKey = f.APIKey
		creds.APIKeyHeader = f.HeaderName
	case models.AuthOAuth2ClientCreds:
		if f.ClientID == "" || f.ClientSecret == "" || f.TokenURL == "" {
			return nil, fmt.Errorf("oauth2_client_credentials requires \"client_id\", \"client_secret\", and \"token_url\"")
		}
		creds.OAuth2ClientID = f.ClientID
		creds.OAuth2ClientSecret = f.ClientSecret
		creds.OAuth2TokenURL = f.TokenURL
		creds.OAuth2Scope = f.Scope
	case models.AuthCustom:
		if len(f.Headers) == 0 {
			return nil, fmt.Errorf("custom requires a non-empty \"headers\" map")
		}
		creds.CustomHeaders = f.Headers
	default:
		return nil, fmt.Errorf("unrecognized auth_type %q", f.AuthType)
	}

	return creds, nil
}
