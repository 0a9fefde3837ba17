// Package llm implements C4, the LLM pipeline: per-family request
// formatting, provider invocation with retry and failover, context-length
// recovery, and reasoning-tag stripping, generalizing the teacher's
// internal/agent/provider_types.go + providers/* + failover.go from a
// single fixed provider list into the three wire families spec.md §4.4
// names (Claude, GPT, Llama).
package llm

import (
	"context"
	"errors"

	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Request is a family-agnostic invocation request. Each Provider
// implementation reshapes Messages into its own wire format at call time —
// the "formatting per family" step in §4.4 — rather than the caller
// pre-formatting, since only the provider knows its own SDK's types.
type Request struct {
	Messages      []*models.Message
	Tools         []*models.ToolDescriptor
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	StopSequences []string
}

// Response is a family-agnostic invocation result.
type Response struct {
	// Assistant is the new message to append to history, already shaped
	// in whichever family the provider speaks (Blocks for Claude,
	// ToolCalls for GPT/Llama).
	Assistant *models.Message

	// Text is the flattened, reasoning-stripped display text, regardless
	// of family — what the session orchestrator forwards to the client as
	// an ai_response frame when there are no pending tool calls.
	Text string

	// PendingToolCalls are the tool calls the model requested this turn,
	// already flattened regardless of family, for C2 to execute.
	PendingToolCalls []models.ToolCall

	StopReason string
}

// Provider is one model-invocation client binding, per the external
// model-invocation client contract in §6.
type Provider interface {
	Name() string
	Family() models.ModelFamily
	Complete(ctx context.Context, req Request) (Response, error)
}

// Classification of a Complete error, used to decide retry vs. failover vs.
// context-shrink-and-retry, per §4.4/§7.
type Classification string

const (
	ClassRetryable      Classification = "retryable"
	ClassRateLimited    Classification = "rate_limited"
	ClassContextTooLong Classification = "context_too_long"
	ClassAuth           Classification = "auth"
	ClassPermanent      Classification = "permanent"
)

// ClassifiableError lets a Provider attach a Classification to an error it
// returns from Complete, so the pipeline doesn't need to string-match
// every provider's own error text — an improvement the teacher's
// failover.go approximates with classifyProviderError's substring
// matching; this repo's providers classify at the source instead where
// the SDK exposes a structured status.
type ClassifiableError struct {
	Err   error
	Class Classification
}

func (e *ClassifiableError) Error() string { return e.Err.Error() }
func (e *ClassifiableError) Unwrap() error  { return e.Err }

// Classify wraps err with class.
func Classify(err error, class Classification) error {
	if err == nil {
		return nil
	}
	return &ClassifiableError{Err: err, Class: class}
}

// ClassOf extracts the classification from err, defaulting to
// ClassRetryable for an unclassified error (conservative: assume transient
// rather than give up early).
func ClassOf(err error) Classification {
	var c *ClassifiableError
	if errors.As(err, &c) {
		return c.Class
	}
	return ClassRetryable
}
