package models

import "encoding/json"

// ParamLocation is where a tool parameter belongs on the outbound HTTP
// request: URL path, query string, or JSON body.
type ParamLocation string

const (
	ParamPath  ParamLocation = "path"
	ParamQuery ParamLocation = "query"
	ParamBody  ParamLocation = "body"
)

// ToolParam describes one parameter of a tool, as compiled from the
// OpenAPI document by the external tool-descriptor compiler (§6).
type ToolParam struct {
	Name     string        `json:"name"`
	Location ParamLocation `json:"location"`
	Required bool          `json:"required"`
}

// ToolDescriptor is the compiled, auth-annotated record of one tool the
// LLM may call, matching the compiler contract in §6 including the
// x-auth-type extension family as literal fields.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Params      []ToolParam     `json:"params"`

	Method  string `json:"method"`
	URLTmpl string `json:"url_template"`
	BaseURL string `json:"base_url,omitempty"`

	// AuthType names which Credentials variant applies to this tool,
	// mirroring the OpenAPI x-auth-type extension.
	AuthType AuthType `json:"x_auth_type,omitempty"`

	// BearerTokenHeader overrides the default "Authorization" header name
	// for AuthBearerToken, from x-bearer-token-header.
	BearerTokenHeader string `json:"x_bearer_token_header,omitempty"`

	// APIKeyHeader overrides the default API key header name, from
	// x-api-key-header.
	APIKeyHeader string `json:"x_api_key_header,omitempty"`

	// OAuth2TokenURL/OAuth2Scope default the credential's oauth2 fields
	// when the client didn't supply them, from x-oauth2-token-url /
	// x-oauth2-scope.
	OAuth2TokenURL string `json:"x_oauth2_token_url,omitempty"`
	OAuth2Scope    string `json:"x_oauth2_scope,omitempty"`

	// CustomAuthHeaderNames lists the header names a Custom credential
	// must supply, from x-custom-auth-headers — used to validate rather
	// than to generate.
	CustomAuthHeaderNames []string `json:"x_custom_auth_headers,omitempty"`
}

// ToAnthropicTool/ToOpenAITool-shaped conversion lives in internal/llm;
// ToolDescriptor itself stays provider-agnostic.
