package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/toolbridge/internal/retry"
)

// FailoverConfig configures the failover orchestrator, adapted from the
// teacher's internal/agent/failover.go (FailoverConfig/ProviderState/
// FailoverOrchestrator) onto this package's family-agnostic Provider
// interface.
type FailoverConfig struct {
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxRetryBackoff         time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig returns sensible defaults.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            200 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// providerState tracks one provider's recent health.
type providerState struct {
	failures      int
	lastFailure   time.Time
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *providerState) isAvailable(cfg FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// Metrics tracks failover statistics for the session metrics snapshot.
type Metrics struct {
	mu               sync.Mutex
	TotalRequests    int64
	TotalFailovers   int64
	TotalRetries     int64
	ProviderFailures map[string]int64
	CircuitBreaks    int64
}

// Orchestrator tries a list of providers in order, retrying each with
// backoff before moving to the next, and opening a circuit breaker on a
// provider that fails repeatedly.
type Orchestrator struct {
	providers []Provider
	config    FailoverConfig
	mu        sync.RWMutex
	states    map[string]*providerState
	metrics   *Metrics
}

// NewOrchestrator builds an orchestrator trying providers in the given
// order (the fallback chain from config.LLMConfig.FallbackChain).
func NewOrchestrator(providers []Provider, cfg FailoverConfig) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 3
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 30 * time.Second
	}
	return &Orchestrator{
		providers: providers,
		config:    cfg,
		states:    make(map[string]*providerState),
		metrics:   &Metrics{ProviderFailures: make(map[string]int64)},
	}
}

// Complete tries each provider in order, applying retry-with-backoff per
// provider and skipping providers whose circuit is open, until one
// succeeds or a permanent/auth error ends the attempt early.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (Response, error) {
	o.metrics.mu.Lock()
	o.metrics.TotalRequests++
	o.metrics.mu.Unlock()

	var lastErr error
	for i, p := range o.providers {
		state := o.stateFor(p.Name())
		if !state.isAvailable(o.config) {
			continue
		}

		resp, err := o.tryProvider(ctx, p, req)
		if err == nil {
			o.recordSuccess(p.Name())
			return resp, nil
		}
		lastErr = err
		o.recordFailure(p.Name(), err)

		class := ClassOf(err)
		if class == ClassPermanent || class == ClassAuth || class == ClassContextTooLong {
			// Not a provider-health problem; failing over won't help.
			return Response{}, err
		}

		if i < len(o.providers)-1 {
			o.metrics.mu.Lock()
			o.metrics.TotalFailovers++
			o.metrics.mu.Unlock()
		}
	}

	if lastErr == nil {
		lastErr = errors.New("llm: no available providers")
	}
	return Response{}, lastErr
}

func (o *Orchestrator) tryProvider(ctx context.Context, p Provider, req Request) (Response, error) {
	var resp Response
	backoff := o.config.RetryBackoff

	for attempt := 1; attempt <= o.config.MaxRetries+1; attempt++ {
		r, err := p.Complete(ctx, req)
		if err == nil {
			return r, nil
		}
		resp = r

		class := ClassOf(err)
		if class == ClassPermanent || class == ClassAuth || class == ClassContextTooLong {
			return Response{}, err
		}
		if attempt > o.config.MaxRetries {
			return Response{}, err
		}

		o.metrics.mu.Lock()
		o.metrics.TotalRetries++
		o.metrics.mu.Unlock()

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(retry.BackoffWithJitter(attempt, backoff, o.config.MaxRetryBackoff, 2.0)):
		}
	}
	return resp, fmt.Errorf("llm: provider %s exhausted retries", p.Name())
}

func (o *Orchestrator) stateFor(name string) *providerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[name]
	if !ok {
		s = &providerState{}
		o.states[name] = s
	}
	return s
}

func (o *Orchestrator) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[name]; ok {
		s.failures = 0
		s.circuitOpen = false
	}
}

func (o *Orchestrator) recordFailure(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[name]
	if !ok {
		s = &providerState{}
		o.states[name] = s
	}
	s.failures++
	s.lastFailure = time.Now()
	if s.failures >= o.config.CircuitBreakerThreshold {
		s.circuitOpen = true
		s.circuitOpenAt = time.Now()
		o.metrics.mu.Lock()
		o.metrics.CircuitBreaks++
		o.metrics.mu.Unlock()
	}

	o.metrics.mu.Lock()
	o.metrics.ProviderFailures[name]++
	o.metrics.mu.Unlock()
	_ = err
}

// Snapshot returns a copy of the orchestrator's metrics.
func (o *Orchestrator) Snapshot() Metrics {
	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()
	out := Metrics{
		TotalRequests:    o.metrics.TotalRequests,
		TotalFailovers:   o.metrics.TotalFailovers,
		TotalRetries:     o.metrics.TotalRetries,
		CircuitBreaks:    o.metrics.CircuitBreaks,
		ProviderFailures: make(map[string]int64, len(o.metrics.ProviderFailures)),
	}
	for k, v := range o.metrics.ProviderFailures {
		out.ProviderFailures[k] = v
	}
	return out
}
