package conversation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// TruncationTier selects which of the two truncation budgets applies: a
// tool result is truncated against the looser new-response budget the
// moment it is produced, and again (if it still exceeds the tighter
// history budget) once it has aged into history — the two-tier scheme in
// §4.3, adapted from the teacher's single-tier
// agent/context/packer.go:truncateToolResults.
type TruncationTier struct {
	Threshold int
	Target    int
}

const truncationSuffix = "\n...[truncated]"

// truncateContent shortens content to target chars when it exceeds
// threshold, preserving a parsed JSON value's structural head rather than
// cutting mid-token when content decodes as JSON, and otherwise cutting at
// a plain character boundary. Truncation is idempotent: re-truncating
// already-truncated content at the same tier is a no-op.
func truncateContent(content string, tier TruncationTier) string {
	if tier.Threshold <= 0 || len(content) <= tier.Threshold {
		return content
	}
	if isAlreadyTruncated(content, tier.Target) {
		return content
	}

	target := tier.Target
	if target <= 0 || target > len(content) {
		target = len(content)
	}

	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		if head, ok := truncateJSONHead(v, target); ok {
			return head
		}
	}

	return content[:target] + truncationSuffix
}

func isAlreadyTruncated(content string, target int) bool {
	n := len(truncationSuffix)
	if len(content) >= n && content[len(content)-n:] == truncationSuffix && len(content)-n <= target {
		return true
	}
	// truncateJSONHead's own output isn't valid JSON to re-parse (the array
	// case) or re-derives a different key count on every pass (the object
	// case), so re-running truncateContent on either form must be
	// recognized and short-circuited here rather than falling through to
	// json.Unmarshal/plain-text truncation again.
	return isJSONArrayTruncationTail(content) || isJSONObjectTruncationMarker(content)
}

// isJSONArrayTruncationTail recognizes truncateJSONHead's array marker:
// "<kept-json-array> /* N more items truncated */".
func isJSONArrayTruncationTail(content string) bool {
	const tail = " more items truncated */"
	if !strings.HasSuffix(content, tail) {
		return false
	}
	rest := strings.TrimSuffix(content, tail)
	marker := strings.LastIndex(rest, "/* ")
	if marker == -1 {
		return false
	}
	count := rest[marker+len("/* "):]
	if count == "" {
		return false
	}
	for _, r := range count {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isJSONObjectTruncationMarker recognizes truncateJSONHead's object
// marker: {"truncated":true,"original_key_count":N}.
func isJSONObjectTruncationMarker(content string) bool {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return false
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) != 2 {
		return false
	}
	truncated, ok := m["truncated"].(bool)
	if !ok || !truncated {
		return false
	}
	_, hasCount := m["original_key_count"]
	return hasCount
}

// truncateJSONHead renders a JSON value truncated to approximately target
// chars: for an array it keeps a prefix of elements followed by a
// "/* N more items truncated */" marker (so the result is not valid JSON);
// for an object it replaces the whole value with the marker object
// {"truncated":true,"original_key_count":N}, keeping none of its keys;
// anything else falls back to plain string truncation by the caller.
func truncateJSONHead(v any, target int) (string, bool) {
	switch val := v.(type) {
	case []any:
		kept := make([]any, 0, len(val))
		size := 2
		for _, el := range val {
			b, err := json.Marshal(el)
			if err != nil {
				return "", false
			}
			if size+len(b)+1 > target && len(kept) > 0 {
				break
			}
			kept = append(kept, el)
			size += len(b) + 1
		}
		dropped := len(val) - len(kept)
		out, err := json.Marshal(kept)
		if err != nil {
			return "", false
		}
		if dropped > 0 {
			return fmt.Sprintf("%s /* %d more items truncated */", out, dropped), true
		}
		return string(out), true

	case map[string]any:
		// Objects don't have a stable truncation order; report shape
		// rather than guess which keys matter.
		return fmt.Sprintf(`{"truncated":true,"original_key_count":%d}`, len(val)), true

	default:
		return "", false
	}
}

// TruncateLargeToolResults applies tier to every tool-result block/flat
// result in msg, returning a new message when anything changed (messages
// are treated as immutable once appended, matching models.Message's use
// across the session store).
func TruncateLargeToolResults(msg *models.Message, tier TruncationTier) *models.Message {
	if msg == nil {
		return msg
	}
	changed := false

	newBlocks := msg.Blocks
	if len(msg.Blocks) > 0 {
		newBlocks = make([]models.ContentBlock, len(msg.Blocks))
		for i, b := range msg.Blocks {
			newBlocks[i] = b
			if b.IsToolResult() {
				t := truncateContent(b.ToolResultContent, tier)
				if t != b.ToolResultContent {
					newBlocks[i].ToolResultContent = t
					changed = true
				}
			}
		}
	}

	newResults := msg.ToolResults
	if len(msg.ToolResults) > 0 {
		newResults = make([]models.ToolResult, len(msg.ToolResults))
		for i, r := range msg.ToolResults {
			newResults[i] = r
			t := truncateContent(r.Content, tier)
			if t != r.Content {
				newResults[i].Content = t
				changed = true
			}
		}
	}

	if !changed {
		return msg
	}
	copied := *msg
	copied.Blocks = newBlocks
	copied.ToolResults = newResults
	return &copied
}
