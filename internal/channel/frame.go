// Package channel implements the bidirectional websocket frame surface
// §6 names: inbound auth/logout/chat/ping frames and outbound
// connection_established/auth_configured/auth_failed/logout_success/typing/
// ai_response/pong/error frames, adapted from the teacher's
// internal/gateway/ws_control_plane.go connection loop onto the simpler
// flat (non JSON-RPC) frame shape this spec calls for.
package channel

import (
	"encoding/json"
	"time"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// InboundFrame is the envelope every client->server frame arrives in.
// Decoding fills only Type; Raw is excluded from JSON and left empty. The
// read loop passes the frame's full bytes to its handler, which decodes the
// type-specific fields once the frame has been schema-validated.
type InboundFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// AuthFrame is the "auth" inbound frame's payload: a flattened superset of
// every Credentials variant's fields, since the wire frame carries
// whichever subset AuthType requires.
type AuthFrame struct {
	AuthType     string            `json:"auth_type"`
	Token        string            `json:"token,omitempty"`
	Username     string            `json:"username,omitempty"`
	Password     string            `json:"password,omitempty"`
	APIKey       string            `json:"api_key,omitempty"`
	HeaderName   string            `json:"header_name,omitempty"`
	ClientID     string            `json:"client_id,omitempty"`
	ClientSecret string            `json:"client_secret,omitempty"`
	TokenURL     string            `json:"token_url,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// ChatFrame is the "chat" inbound frame's payload.
type ChatFrame struct {
	Message string `json:"message"`
}

// OutboundFrame is the envelope every server->client frame is serialized
// as; Payload is marshaled inline via MarshalJSON below so the wire shape
// is a single flat object with "type" alongside the payload fields, not a
// nested "payload" key.
type OutboundFrame struct {
	Type    string
	Payload any
}

// MarshalJSON flattens Type and Payload's fields into one JSON object.
func (f OutboundFrame) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		fields = map[string]json.RawMessage{}
	}
	fields["type"] = mustMarshal(f.Type)
	return json.Marshal(fields)
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func ConnectionEstablished(sessionID string, now time.Time) OutboundFrame {
	return OutboundFrame{Type: "connection_established", Payload: map[string]any{
		"session_id": sessionID,
		"timestamp":  now.UnixMilli(),
	}}
}

func AuthConfigured(authType string, now time.Time) OutboundFrame {
	return OutboundFrame{Type: "auth_configured", Payload: map[string]any{
		"auth_type": authType,
		"timestamp": now.UnixMilli(),
	}}
}

func AuthFailed(message string) OutboundFrame {
	return OutboundFrame{Type: "auth_failed", Payload: map[string]any{"message": message}}
}

func LogoutSuccess(message string) OutboundFrame {
	return OutboundFrame{Type: "logout_success", Payload: map[string]any{"message": message}}
}

func Typing(message bool) OutboundFrame {
	return OutboundFrame{Type: "typing", Payload: map[string]any{"message": message}}
}

func AIResponse(message string, toolCalls []models.ToolCall, toolResults []models.ToolResult, now time.Time) OutboundFrame {
	payload := map[string]any{
		"message":   message,
		"timestamp": now.UnixMilli(),
	}
	if len(toolCalls) > 0 {
		payload["tool_calls"] = toolCalls
	}
	if len(toolResults) > 0 {
		payload["tool_results"] = toolResults
	}
	return OutboundFrame{Type: "ai_response", Payload: payload}
}

func Pong() OutboundFrame {
	return OutboundFrame{Type: "pong", Payload: map[string]any{}}
}

func ErrorFrame(message string, now time.Time) OutboundFrame {
	return OutboundFrame{Type: "error", Payload: map[string]any{
		"message":   message,
		"timestamp": now.UnixMilli(),
	}}
}

func BusyFrame(message string, now time.Time) OutboundFrame {
	return OutboundFrame{Type: "error", Payload: map[string]any{
		"message":   message,
		"code":      "busy",
		"timestamp": now.UnixMilli(),
	}}
}
