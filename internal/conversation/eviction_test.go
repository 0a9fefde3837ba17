package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

func textMessage(role models.Role, content string) *models.Message {
	return &models.Message{Role: role, Content: content}
}

func TestTruncateKeep_StopsAtMessageOrCharBudget(t *testing.T) {
	history := []*models.Message{
		textMessage(models.RoleUser, strings.Repeat("a", 10)),
		textMessage(models.RoleAssistant, strings.Repeat("b", 10)),
		textMessage(models.RoleUser, strings.Repeat("c", 10)),
	}
	kept := evict(history, StrategyTruncate, 10, 15)
	require.Len(t, kept, 1)
	assert.Equal(t, strings.Repeat("a", 10), kept[0].Content)
}

func TestSlidingWindowKeep_KeepsNewestMessages(t *testing.T) {
	history := []*models.Message{
		textMessage(models.RoleUser, "1"),
		textMessage(models.RoleAssistant, "2"),
		textMessage(models.RoleUser, "3"),
	}
	kept := evict(history, StrategySlidingWindow, 2, 1_000_000)
	require.Len(t, kept, 2)
	assert.Equal(t, "2", kept[0].Content)
	assert.Equal(t, "3", kept[1].Content)
}

func TestSmartPruneKeep_RetainsImportantMessageOutsideWindow(t *testing.T) {
	important := textMessage(models.RoleUser, "remember this")
	important.SetMetaFlag("important", true)

	history := []*models.Message{
		important,
		textMessage(models.RoleAssistant, "filler 1"),
		textMessage(models.RoleUser, "filler 2"),
		textMessage(models.RoleAssistant, "filler 3"),
	}
	kept := evict(history, StrategySmartPrune, 2, 1_000_000)

	var gotImportant bool
	for _, m := range kept {
		if m == important {
			gotImportant = true
		}
	}
	assert.True(t, gotImportant, "important message must survive eviction regardless of recency window")
}

func TestFinalizePairing_ExpandsToolResultWhenOwnerKept(t *testing.T) {
	history := []*models.Message{
		assistantWithToolUse("a1"),
		toolResultMessage("a1"),
	}
	// keep only the assistant message; finalizePairing must pull in its
	// tool-result mate rather than leave a dangling tool_use.
	keep := []bool{true, false}
	out := finalizePairing(history, keep, 0, 0)
	require.Len(t, out, 2)
}

func TestFinalizePairing_ExpandsOwnerWhenResultKept(t *testing.T) {
	history := []*models.Message{
		assistantWithToolUse("a1"),
		toolResultMessage("a1"),
	}
	keep := []bool{false, true}
	out := finalizePairing(history, keep, 0, 0)
	require.Len(t, out, 2)
}

func TestFinalizePairing_DropsBothWhenNeitherKept(t *testing.T) {
	history := []*models.Message{
		assistantWithToolUse("a1"),
		toolResultMessage("a1"),
		textMessage(models.RoleUser, "unrelated"),
	}
	keep := []bool{false, false, true}
	out := finalizePairing(history, keep, 0, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "unrelated", out[0].Content)
}

func TestFinalizePairing_MultiIDAssistantPullsInAllResultMessages(t *testing.T) {
	history := []*models.Message{
		assistantWithToolUse("a1", "a2"),
		toolResultMessage("a1"),
		toolResultMessage("a2"),
	}
	keep := []bool{true, false, false}
	out := finalizePairing(history, keep, 0, 0)
	require.Len(t, out, 3, "every tool-result message answering any of the kept assistant message's ids must be pulled in")
}

func TestFinalizePairing_DropsPairWhenExpansionOverflowsBudget(t *testing.T) {
	// Only the assistant message is originally kept by the strategy; its
	// tool-result mate is huge. Expansion would pull the result back in,
	// but that overflows maxChars, so §4.3 requires the whole pair be
	// dropped together rather than the budget being silently violated.
	history := []*models.Message{
		textMessage(models.RoleUser, "keep me"),
		assistantWithToolUse("a1"),
		toolResultMessage("a1"),
	}
	history[2].Blocks[0].ToolResultContent = strings.Repeat("x", 1000)

	keep := []bool{true, true, false}
	out := finalizePairing(history, keep, 10, 50)

	require.Len(t, out, 1, "overflowing pair must be dropped as a whole, leaving only the unrelated message")
	assert.Equal(t, "keep me", out[0].Content)
}

func TestFinalizePairing_KeepsPairWhenBothSidesOriginallyKept(t *testing.T) {
	// Both sides of the pair were already in the strategy's keep-set (not
	// an expansion artifact), so even under a tight budget the pair must
	// not be reverted — only expansion-created pairs are droppable.
	history := []*models.Message{
		assistantWithToolUse("a1"),
		toolResultMessage("a1"),
	}
	history[1].Blocks[0].ToolResultContent = strings.Repeat("x", 1000)

	keep := []bool{true, true}
	out := finalizePairing(history, keep, 10, 50)
	require.Len(t, out, 2, "a pair kept on both sides by the strategy itself is not an expansion artifact and must survive")
}
