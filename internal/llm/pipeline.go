package llm

import (
	"context"
	"errors"

	"github.com/haasonsaas/toolbridge/internal/conversation"
	"github.com/haasonsaas/toolbridge/internal/ratelimit"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// ErrTurnRateLimited is returned when a session's own rate gate (not the
// provider's) rejects an invocation outright rather than waiting, per
// §5's per-session rate gate.
var ErrTurnRateLimited = errors.New("llm: session rate limit exceeded")

// Pipeline is C4: it snapshots a session's history through the
// conversation manager, applies the per-session rate gate, invokes the
// failover orchestrator, recovers from a context-too-long error by
// shrinking history and retrying once, and strips reasoning tags from the
// display text before returning.
type Pipeline struct {
	orchestrator *Orchestrator
	limiter      *ratelimit.Limiter
	manager      *conversation.Manager
}

// NewPipeline constructs a Pipeline.
func NewPipeline(orchestrator *Orchestrator, limiter *ratelimit.Limiter, manager *conversation.Manager) *Pipeline {
	return &Pipeline{orchestrator: orchestrator, limiter: limiter, manager: manager}
}

// Invoke runs one LLM turn for sess: it does not append the incoming user
// message itself (the session orchestrator already did that via
// manager.Append before calling Invoke); it only snapshots, invokes, and
// returns the shaped Response for the orchestrator to append and act on.
func (p *Pipeline) Invoke(ctx context.Context, sess *models.Session, tools []*models.ToolDescriptor, systemPrompt string, temperature float64, maxTokens int) (Response, error) {
	if p.limiter != nil && !p.limiter.Allow(sess.ID) {
		return Response{}, ErrTurnRateLimited
	}

	messages := p.manager.SnapshotForLLM(sess)
	req := Request{
		Messages:     messages,
		Tools:        tools,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}

	resp, err := p.orchestrator.Complete(ctx, req)
	if err != nil {
		if ClassOf(err) == ClassContextTooLong {
			return p.retryAfterShrink(ctx, sess, req)
		}
		return Response{}, err
	}

	resp.Text = StripReasoningTags(resp.Text)
	return resp, nil
}

// retryAfterShrink takes a fresh snapshot from the conversation manager,
// keeps only its newest half of the messages (at least one), then issues
// the invocation exactly once more — the
// context-length-error recovery path named in §4.4/§7: "shrink via C3 and
// retry", not an open-ended loop.
func (p *Pipeline) retryAfterShrink(ctx context.Context, sess *models.Session, prevReq Request) (Response, error) {
	shrunk := p.manager.SnapshotForLLM(sess)
	half := len(shrunk) / 2
	if half < 1 {
		half = 1
	}
	prevReq.Messages = shrunk[len(shrunk)-half:]

	resp, err := p.orchestrator.Complete(ctx, prevReq)
	if err != nil {
		return Response{}, err
	}
	resp.Text = StripReasoningTags(resp.Text)
	return resp, nil
}

// NewSessionRateLimiter builds a Limiter from config values, shared helper
// for cmd/bridge wiring.
func NewSessionRateLimiter(requestsPerSecond float64, burst int, enabled bool) *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         burst,
		Enabled:           enabled,
	})
}
