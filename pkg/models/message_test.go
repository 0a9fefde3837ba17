package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_ToolUseIDs_CombinesBlockAndFlatForms(t *testing.T) {
	m := &Message{
		Blocks: []ContentBlock{
			{Kind: BlockText, Text: "thinking..."},
			{Kind: BlockToolUse, ToolUseID: "blk1"},
		},
		ToolCalls: []ToolCall{{ID: "flat1"}},
	}
	assert.ElementsMatch(t, []string{"blk1", "flat1"}, m.ToolUseIDs())
}

func TestMessage_ToolResultIDs_CombinesBlockAndFlatForms(t *testing.T) {
	m := &Message{
		Blocks:      []ContentBlock{{Kind: BlockToolResult, ToolResultForID: "blk1"}},
		ToolResults: []ToolResult{{ToolCallID: "flat1"}},
	}
	assert.ElementsMatch(t, []string{"blk1", "flat1"}, m.ToolResultIDs())
}

func TestMessage_IsToolResultMessage(t *testing.T) {
	assert.True(t, (&Message{ToolResults: []ToolResult{{ToolCallID: "a"}}}).IsToolResultMessage())
	assert.True(t, (&Message{Blocks: []ContentBlock{{Kind: BlockToolResult}}}).IsToolResultMessage())
	assert.False(t, (&Message{Content: "hello"}).IsToolResultMessage())
	var nilMsg *Message
	assert.False(t, nilMsg.IsToolResultMessage())
}

func TestMessage_MetaFlag_DefaultsFalseUntilSet(t *testing.T) {
	m := &Message{}
	assert.False(t, m.MetaFlag("important"))
	m.SetMetaFlag("important", true)
	assert.True(t, m.MetaFlag("important"))
}

func TestMessage_ToolUseIDs_NilMessageReturnsNil(t *testing.T) {
	var m *Message
	assert.Nil(t, m.ToolUseIDs())
	assert.Nil(t, m.ToolResultIDs())
}
