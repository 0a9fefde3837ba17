package conversation

import (
	"strings"
	"time"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Config bounds Manager's budget and strategy choice, sourced from
// config.ConversationConfig.
type Config struct {
	Strategy    Strategy
	MaxMessages int
	MaxChars    int

	NewResponse TruncationTier
	History     TruncationTier
}

// Manager implements C3's three operations against a single session's
// history: Append, SnapshotForLLM, and TruncateLargeToolResults.
type Manager struct {
	cfg Config
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 120
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 60000
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySmartPrune
	}
	return &Manager{cfg: cfg}
}

// Append adds msg to sess's history, applying the tier-1 (new-response)
// truncation to any tool result it carries before it is stored, per §4.3:
// a tool result is truncated against the looser new-response budget the
// moment it is produced, before it ever becomes part of a snapshot.
func (m *Manager) Append(sess *models.Session, msg *models.Message) {
	msg = TruncateLargeToolResults(msg, m.cfg.NewResponse)
	sess.AppendMessage(msg)
}

// SnapshotForLLM returns the message list to send on the next C4
// invocation: the stored history with tier-2 (history) truncation applied
// to any tool result that has aged in and still exceeds that tighter
// budget, passed through RepairPairing (Append itself does no pairing
// repair), and then, only when over budget, evicted down to the configured
// budget by the configured strategy.
func (m *Manager) SnapshotForLLM(sess *models.Session) []*models.Message {
	history := sess.History()

	aged := make([]*models.Message, len(history))
	for i, msg := range history {
		aged[i] = TruncateLargeToolResults(msg, m.cfg.History)
	}

	repaired := RepairPairing(aged)

	total := 0
	for _, msg := range repaired {
		total += messageChars(msg)
	}
	if len(repaired) <= m.cfg.MaxMessages && total <= m.cfg.MaxChars {
		return repaired
	}

	before := len(repaired)
	evicted := evict(repaired, m.cfg.Strategy, m.cfg.MaxMessages, m.cfg.MaxChars)
	if dropped := before - len(evicted); dropped > 0 {
		sess.IncEvictions(int64(dropped))
	}
	return evicted
}

// ChunkText splits long plain text into pieces no larger than maxChars,
// breaking at paragraph boundaries first, then sentence boundaries, then a
// hard character cut as a last resort — and never splits a tool_use or
// tool_result block, since those are handled as atomic units by
// TruncateLargeToolResults instead. Nothing else in this module calls it;
// it is exercised only by its tests.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxChars {
		cut := lastBoundary(remaining, maxChars, "\n\n")
		if cut <= 0 {
			cut = lastBoundary(remaining, maxChars, ". ")
		}
		if cut <= 0 {
			cut = maxChars
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func lastBoundary(s string, limit int, sep string) int {
	if limit > len(s) {
		limit = len(s)
	}
	idx := strings.LastIndex(s[:limit], sep)
	if idx <= 0 {
		return 0
	}
	return idx + len(sep)
}

// IdleReaper periodically closes sessions that have exceeded idleTimeout,
// the supplemented idle-session-reaping feature from SPEC_FULL.md,
// grounded on the teacher's internal/sessions/expiry.go periodic-sweep
// pattern.
type IdleReaper struct {
	idleTimeout time.Duration
	interval    time.Duration
}

// NewIdleReaper constructs a reaper with the given timeout/interval.
func NewIdleReaper(idleTimeout, interval time.Duration) *IdleReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IdleReaper{idleTimeout: idleTimeout, interval: interval}
}

// Run sweeps table every interval until stop is closed, closing any
// session idle for longer than idleTimeout via onExpire.
func (r *IdleReaper) Run(stop <-chan struct{}, list func() []*models.Session, onExpire func(*models.Session)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, s := range list() {
				if s.State() == models.StateClosed {
					continue
				}
				if s.IdleSince(now) >= r.idleTimeout {
					onExpire(s)
				}
			}
		}
	}
}
