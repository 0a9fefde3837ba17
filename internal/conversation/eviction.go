package conversation

import (
	"sort"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Strategy selects which eviction algorithm Manager.SnapshotForLLM uses once the
// history exceeds its configured budget, per §4.3.
type Strategy string

const (
	StrategyTruncate      Strategy = "truncate"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategySmartPrune    Strategy = "smart_prune"
)

// evict reduces history to fit within maxMessages/maxChars using the named
// strategy, then always runs through finalizePairing so invariant I1 holds
// regardless of which strategy picked the cut — each strategy only decides
// a candidate retain-set; the finalizer is what guarantees no tool_use or
// tool_result is ever left without its mate.
func evict(history []*models.Message, strategy Strategy, maxMessages, maxChars int) []*models.Message {
	var keep []bool
	switch strategy {
	case StrategySlidingWindow:
		keep = slidingWindowKeep(history, maxMessages)
	case StrategySmartPrune:
		keep = smartPruneKeep(history, maxMessages, maxChars)
	default: // StrategyTruncate
		keep = truncateKeep(history, maxMessages, maxChars)
	}
	return finalizePairing(history, keep, maxMessages, maxChars)
}

// truncateKeep keeps the oldest messages that fit, dropping everything
// from the point the budget is exceeded onward — the simplest strategy,
// suited to a hard migration boundary rather than ongoing conversation.
func truncateKeep(history []*models.Message, maxMessages, maxChars int) []bool {
	keep := make([]bool, len(history))
	chars := 0
	for i, m := range history {
		chars += messageChars(m)
		if i >= maxMessages || chars > maxChars {
			break
		}
		keep[i] = true
	}
	return keep
}

// slidingWindowKeep keeps the newest messages that fit, dropping the
// oldest ones first — the common "keep the tail" strategy.
func slidingWindowKeep(history []*models.Message, maxMessages int) []bool {
	keep := make([]bool, len(history))
	start := 0
	if len(history) > maxMessages {
		start = len(history) - maxMessages
	}
	for i := start; i < len(history); i++ {
		keep[i] = true
	}
	return keep
}

// smartPruneKeep keeps the newest messages within budget like
// slidingWindowKeep, but additionally always retains any message marked
// important (models.Message.MetaFlag("important")) even if it falls
// outside the recency window. The budget check is made message by message,
// not on a tool_use/tool_result pair's combined size; finalizePairing
// restores pair integrity afterwards. This is the default strategy (config.ConversationConfig
// "smart_prune") because it is the only one that treats "important" hints
// specially, matching the teacher's MarkMessageImportant API in
// sessions/compaction.go, generalized from whole-session compaction to a
// per-snapshot eviction decision.
func smartPruneKeep(history []*models.Message, maxMessages, maxChars int) []bool {
	keep := make([]bool, len(history))

	important := make([]bool, len(history))
	for i, m := range history {
		if m.MetaFlag("important") {
			important[i] = true
			keep[i] = true
		}
	}

	chars := 0
	for i := len(history) - 1; i >= 0; i-- {
		if keep[i] {
			chars += messageChars(history[i])
			continue
		}
		kept := countTrue(keep)
		if kept >= maxMessages {
			break
		}
		msgChars := messageChars(history[i])
		if chars+msgChars > maxChars {
			continue
		}
		keep[i] = true
		chars += msgChars
	}
	return keep
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}

func messageChars(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := len(m.Content)
	for _, b := range m.Blocks {
		chars += len(b.Text) + len(b.ToolInput) + len(b.ToolResultContent)
	}
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		chars += len(tr.Content)
	}
	return chars
}

// finalizePairing expands a candidate keep-set so that no assistant
// message is kept without at least one surviving mate for each of its
// tool_use ids and vice versa: whenever keeping one side of a pair without
// the other, its mate is pulled back in (phase 1). If that expansion
// pushes the kept set back over maxMessages/maxChars, pairs that exist
// only because of the expansion are dropped together, oldest first, until
// the set fits again or no more such pairs remain (phase 2) — per §4.3:
// "if expansion cannot satisfy budget, the entire pair is dropped
// together." This is the common finalizer every eviction strategy shares,
// generalizing the single-pass pending-id tracking in the teacher's
// transcript_repair.go into a two-phase expand-then-reconcile pass since
// eviction (unlike the teacher's append-time repair) may remove messages
// from the middle of history, not just the tail. maxMessages/maxChars <=
// 0 disables the corresponding budget check, just as in the keep-set
// strategies above.
func finalizePairing(history []*models.Message, keep []bool, maxMessages, maxChars int) []*models.Message {
	idOwner := make(map[string]int) // tool_use id -> index of assistant msg
	idUser := make(map[string][]int) // tool_use id -> indices of tool messages using it

	for i, m := range history {
		for _, id := range m.ToolUseIDs() {
			idOwner[id] = i
		}
		for _, id := range m.ToolResultIDs() {
			idUser[id] = append(idUser[id], i)
		}
	}

	origKeep := append([]bool(nil), keep...)
	expandToPairedMates(keep, idOwner, idUser)
	dropOverflowingExpandedPairs(history, keep, origKeep, idOwner, idUser, maxMessages, maxChars)

	out := make([]*models.Message, 0, len(history))
	for i, m := range history {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// expandToPairedMates pulls in a kept message's mate on the other side of
// a tool_use/tool_result pairing until every kept id has both sides kept.
func expandToPairedMates(keep []bool, idOwner map[string]int, idUser map[string][]int) {
	changed := true
	for changed {
		changed = false
		for id, ownerIdx := range idOwner {
			users := idUser[id]
			ownerKept := keep[ownerIdx]
			anyUserKept := false
			for _, u := range users {
				if keep[u] {
					anyUserKept = true
					break
				}
			}
			if ownerKept && !anyUserKept && len(users) > 0 {
				for _, u := range users {
					if !keep[u] {
						keep[u] = true
						changed = true
					}
				}
			}
			if anyUserKept && !ownerKept {
				keep[ownerIdx] = true
				changed = true
			}
		}
	}
}

// dropOverflowingExpandedPairs reverts tool_use/tool_result pairs that
// expandToPairedMates pulled in — i.e. pairs where only one side was
// originally kept by the strategy — oldest owner first, until the kept
// set is back within budget. A pair is only dropped as a whole when
// neither its owner nor any of its user messages carries any other id
// still in play; a message shared across multiple ids is left alone
// rather than risk orphaning an unrelated pair.
func dropOverflowingExpandedPairs(history []*models.Message, keep, origKeep []bool, idOwner map[string]int, idUser map[string][]int, maxMessages, maxChars int) {
	if !overBudget(history, keep, maxMessages, maxChars) {
		return
	}

	type expandedPair struct {
		id       string
		ownerIdx int
		users    []int
	}
	var candidates []expandedPair
	for id, ownerIdx := range idOwner {
		users := idUser[id]
		origOwnerKept := origKeep[ownerIdx]
		origAnyUserKept := false
		for _, u := range users {
			if origKeep[u] {
				origAnyUserKept = true
				break
			}
		}
		if origOwnerKept != origAnyUserKept {
			candidates = append(candidates, expandedPair{id: id, ownerIdx: ownerIdx, users: users})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ownerIdx < candidates[j].ownerIdx })

	for _, c := range candidates {
		if !overBudget(history, keep, maxMessages, maxChars) {
			return
		}
		if !soleID(history[c.ownerIdx].ToolUseIDs(), c.id) {
			continue
		}
		allUsersDroppable := true
		for _, u := range c.users {
			if !soleID(history[u].ToolResultIDs(), c.id) {
				allUsersDroppable = false
				break
			}
		}
		if !allUsersDroppable {
			continue
		}
		keep[c.ownerIdx] = false
		for _, u := range c.users {
			keep[u] = false
		}
	}
}

// soleID reports whether id is the only entry in ids — i.e. the message
// it came from isn't shared with any other tool_use/tool_result pairing.
func soleID(ids []string, id string) bool {
	if len(ids) != 1 {
		return false
	}
	return ids[0] == id
}

func overBudget(history []*models.Message, keep []bool, maxMessages, maxChars int) bool {
	count := 0
	chars := 0
	for i, k := range keep {
		if !k {
			continue
		}
		count++
		chars += messageChars(history[i])
	}
	if maxMessages > 0 && count > maxMessages {
		return true
	}
	if maxChars > 0 && chars > maxChars {
		return true
	}
	return false
}
