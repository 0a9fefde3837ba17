// Package conversation implements C3, the conversation manager: append,
// snapshot_for_llm, and truncate_large_tool_results, plus the eviction
// strategies that keep a session's history within budget without ever
// orphaning a tool_use/tool_result pair (invariant I1, §3/§8).
package conversation

import "github.com/haasonsaas/toolbridge/pkg/models"

// RepairPairing drops any tool_result block/ToolResult entry whose
// tool_use id is not currently pending — adapted from the teacher's
// transcript_repair.go, generalized to track pending ids across the whole
// history slice rather than within a single in-process tool registry. Each
// assistant message resets the pending set to its own tool_use ids; a tool
// message left with no tool result is dropped whole, and a flat ToolResult
// with an empty id takes the oldest pending id. Assistant messages are
// kept as they are, so a tool_use with no answering result is not removed
// here. SnapshotForLLM runs this pass before eviction; eviction's
// finalizePairing then keeps pairs together at message granularity.
func RepairPairing(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]struct{})
	pendingOrder := make([]string, 0)
	repaired := make([]*models.Message, 0, len(history))

	clearPending := func() {
		for k := range pending {
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
	}

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			clearPending()
			ids := msg.ToolUseIDs()
			for _, id := range ids {
				pending[id] = struct{}{}
				pendingOrder = append(pendingOrder, id)
			}
			repaired = append(repaired, msg)

		case models.RoleTool:
			fixed := filterPendingResults(msg, pending, &pendingOrder)
			if fixed == nil {
				continue
			}
			repaired = append(repaired, fixed)

		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

// filterPendingResults returns a copy of msg retaining only the
// tool-result entries (block or flat form) whose id is still pending, or
// nil if none survive.
func filterPendingResults(msg *models.Message, pending map[string]struct{}, pendingOrder *[]string) *models.Message {
	if len(msg.Blocks) > 0 {
		fixed := make([]models.ContentBlock, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			if !b.IsToolResult() {
				fixed = append(fixed, b)
				continue
			}
			if _, ok := pending[b.ToolResultForID]; ok {
				delete(pending, b.ToolResultForID)
				*pendingOrder = removeID(*pendingOrder, b.ToolResultForID)
				fixed = append(fixed, b)
			}
		}
		if !anyToolResult(fixed) {
			return nil
		}
		copied := *msg
		copied.Blocks = fixed
		return &copied
	}

	if len(msg.ToolResults) > 0 {
		fixed := make([]models.ToolResult, 0, len(msg.ToolResults))
		for _, r := range msg.ToolResults {
			res := r
			if res.ToolCallID == "" && len(*pendingOrder) > 0 {
				res.ToolCallID = (*pendingOrder)[0]
			}
			if _, ok := pending[res.ToolCallID]; !ok {
				continue
			}
			delete(pending, res.ToolCallID)
			*pendingOrder = removeID(*pendingOrder, res.ToolCallID)
			fixed = append(fixed, res)
		}
		if len(fixed) == 0 {
			return nil
		}
		copied := *msg
		copied.ToolResults = fixed
		return &copied
	}

	return msg
}

func anyToolResult(blocks []models.ContentBlock) bool {
	for _, b := range blocks {
		if b.IsToolResult() {
			return true
		}
	}
	return false
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
