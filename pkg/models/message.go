// Package models defines the wire- and memory-resident data model shared by
// every component of the bridge: sessions, credentials, conversation
// messages, and tool descriptors.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message, mirroring the three-party
// conversation structure every supported model family uses.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ModelFamily identifies which wire shape a message's content must take when
// it is formatted for an LLM invocation. Each family has a different way of
// representing tool_use/tool_result pairs inline with text.
type ModelFamily string

const (
	FamilyClaude ModelFamily = "claude"
	FamilyGPT    ModelFamily = "gpt"
	FamilyLlama  ModelFamily = "llama"
)

// BlockKind tags a single element of a Claude-style content block list.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one element of a Claude-family message's content array.
// Exactly one of the payload fields is meaningful, selected by Kind — this
// is the tagged-variant shape the data model calls for rather than a
// separate Go type per kind, since blocks are stored, truncated, and
// re-serialized as a uniform list.
type ContentBlock struct {
	Kind BlockKind `json:"type"`

	// Text is set when Kind == BlockText.
	Text string `json:"text,omitempty"`

	// ToolUseID, ToolName, ToolInput are set when Kind == BlockToolUse.
	ToolUseID string          `json:"id,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	ToolInput json.RawMessage `json:"input,omitempty"`

	// ToolResultForID, ToolResultContent, ToolResultIsError are set when
	// Kind == BlockToolResult.
	ToolResultForID   string `json:"tool_use_id,omitempty"`
	ToolResultContent string `json:"content,omitempty"`
	ToolResultIsError bool   `json:"is_error,omitempty"`
}

// IsToolUse reports whether this block opens a tool call.
func (b ContentBlock) IsToolUse() bool { return b.Kind == BlockToolUse }

// IsToolResult reports whether this block closes a tool call.
func (b ContentBlock) IsToolResult() bool { return b.Kind == BlockToolResult }

// ToolCall is a flat, family-agnostic record of one requested tool
// invocation, used by the GPT and Llama wire shapes and by the tool
// executor (C2) regardless of which family produced it.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the flat, family-agnostic record of one tool's outcome.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is a single turn in a session's conversation history.
//
// Content is stored in a family-agnostic superset shape: Content holds
// plain text (used directly by the Llama and GPT families, and as the
// flattened view for display), Blocks holds the Claude-style content-block
// list when the message originated from or targets that family, and
// ToolCalls/ToolResults hold the flat GPT/Llama equivalents. Exactly one of
// Blocks or (ToolCalls, ToolResults) is populated for any given message;
// which one depends on which family produced it. The LLM pipeline (C4)
// reshapes a Message into whichever family the active provider needs at
// format time — see internal/llm.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content is the plain-text portion of the message. For a tool_result
	// message in the Llama family this is empty; the result text instead
	// lives in ToolResults[0].Content.
	Content string `json:"content,omitempty"`

	// Blocks holds Claude-style tagged content blocks. Nil unless this
	// message carries tool_use/tool_result pairs in block form.
	Blocks []ContentBlock `json:"blocks,omitempty"`

	// ToolCalls holds the flat GPT/Llama tool-call list for an assistant
	// message that invoked tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds the flat GPT/Llama tool-result list for a tool
	// message answering prior ToolCalls.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Metadata carries bookkeeping that never reaches the LLM: eviction
	// markers, truncation flags, summary markers.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolUseIDs returns every tool_use id this message opens, across both the
// block form and the flat form.
func (m *Message) ToolUseIDs() []string {
	if m == nil {
		return nil
	}
	var ids []string
	for _, b := range m.Blocks {
		if b.IsToolUse() && b.ToolUseID != "" {
			ids = append(ids, b.ToolUseID)
		}
	}
	for _, tc := range m.ToolCalls {
		if tc.ID != "" {
			ids = append(ids, tc.ID)
		}
	}
	return ids
}

// ToolResultIDs returns every tool_use id this message answers.
func (m *Message) ToolResultIDs() []string {
	if m == nil {
		return nil
	}
	var ids []string
	for _, b := range m.Blocks {
		if b.IsToolResult() && b.ToolResultForID != "" {
			ids = append(ids, b.ToolResultForID)
		}
	}
	for _, tr := range m.ToolResults {
		if tr.ToolCallID != "" {
			ids = append(ids, tr.ToolCallID)
		}
	}
	return ids
}

// IsToolResultMessage reports whether m carries any tool result, in block
// or flat form. C3's pairing and eviction code works from ToolUseIDs and
// ToolResultIDs and does not call it.
func (m *Message) IsToolResultMessage() bool {
	if m == nil {
		return false
	}
	if len(m.ToolResults) > 0 {
		return true
	}
	for _, b := range m.Blocks {
		if b.IsToolResult() {
			return true
		}
	}
	return false
}

// MetaFlag reads a boolean metadata flag, defaulting to false.
func (m *Message) MetaFlag(key string) bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetMetaFlag sets a boolean metadata flag, allocating Metadata if needed.
func (m *Message) SetMetaFlag(key string, value bool) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, 1)
	}
	m.Metadata[key] = value
}
