package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/toolbridge/internal/auth"
	"github.com/haasonsaas/toolbridge/internal/channel"
	"github.com/haasonsaas/toolbridge/internal/config"
	"github.com/haasonsaas/toolbridge/internal/conversation"
	"github.com/haasonsaas/toolbridge/internal/llm"
	"github.com/haasonsaas/toolbridge/internal/llm/providers"
	"github.com/haasonsaas/toolbridge/internal/session"
	"github.com/haasonsaas/toolbridge/internal/toolexec"
	"github.com/haasonsaas/toolbridge/internal/toolspec"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

const defaultSystemPrompt = "You are a helpful assistant that can call tools to answer the user's request."

// app wires together every component (C1-C5) per the configured provider
// fallback chain and tool descriptor table, following the teacher's
// main()-builds-everything-then-hands-it-to-handlers shape.
type app struct {
	orchestrator *session.Orchestrator
	reaper       *conversation.IdleReaper
	table        *session.Table
}

func newApp(cfg config.Config) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.Auth.ToolCallTimeout}

	var tools *toolspec.Table
	var err error
	if cfg.Tools.DescriptorsFile != "" {
		tools, err = toolspec.Load(cfg.Tools.DescriptorsFile)
		if err != nil {
			return nil, fmt.Errorf("load tool descriptors: %w", err)
		}
	} else {
		tools = toolspec.NewTable(nil)
	}

	applier := auth.NewApplier(httpClient)
	executor := toolexec.NewExecutor(httpClient, tools, applier, toolexec.Config{
		Concurrency:  cfg.Session.MaxToolCallsPerTurn,
		MaxRetries:   cfg.Auth.MaxRetries,
		RetryBackoff: cfg.Auth.RetryBackoff,
		CallTimeout:  cfg.Auth.ToolCallTimeout,
	})

	manager := conversation.NewManager(conversation.Config{
		Strategy:    conversation.Strategy(cfg.Conversation.Strategy),
		MaxMessages: cfg.Conversation.MaxMessages,
		MaxChars:    cfg.Conversation.MaxChars,
		NewResponse: conversation.TruncationTier{
			Threshold: cfg.Conversation.NewResponseThreshold,
			Target:    cfg.Conversation.NewResponseTarget,
		},
		History: conversation.TruncationTier{
			Threshold: cfg.Conversation.HistoryThreshold,
			Target:    cfg.Conversation.HistoryTarget,
		},
	})

	orchestratorLLM, defaultProviderCfg, err := buildOrchestrator(cfg)
	if err != nil {
		return nil, err
	}

	limiter := llm.NewSessionRateLimiter(cfg.LLM.RateLimit.RequestsPerSecond, cfg.LLM.RateLimit.BurstSize, cfg.LLM.RateLimit.Enabled)
	pipeline := llm.NewPipeline(orchestratorLLM, limiter, manager)

	table := session.NewTable()

	orch := &session.Orchestrator{
		Table:        table,
		Manager:      manager,
		Pipeline:     pipeline,
		Executor:     executor,
		Tools:        tools.All,
		SystemPrompt: defaultSystemPrompt,
		Cfg:          cfg.Session,
		Provider:     defaultProviderCfg,
	}

	idleTimeout := cfg.Session.IdleTimeout
	reapInterval := cfg.Session.ReapInterval
	reaper := conversation.NewIdleReaper(idleTimeout, reapInterval)

	return &app{orchestrator: orch, reaper: reaper, table: table}, nil
}

// buildOrchestrator constructs every configured provider and assembles
// them into the failover orchestrator in fallback_chain order.
func buildOrchestrator(cfg config.Config) (*llm.Orchestrator, config.LLMProviderConfig, error) {
	chain := cfg.LLM.FallbackChain
	if len(chain) == 0 {
		chain = []string{cfg.LLM.DefaultProvider}
	}

	var built []llm.Provider
	var defaultCfg config.LLMProviderConfig
	for _, name := range chain {
		pc, ok := cfg.LLM.Providers[name]
		if !ok {
			slog.Warn("fallback_chain entry has no provider config, skipping", "provider", name)
			continue
		}
		if name == cfg.LLM.DefaultProvider {
			defaultCfg = pc
		}
		p, err := buildProvider(name, pc)
		if err != nil {
			return nil, config.LLMProviderConfig{}, fmt.Errorf("build provider %q: %w", name, err)
		}
		built = append(built, p)
	}
	if len(built) == 0 {
		return nil, config.LLMProviderConfig{}, fmt.Errorf("no providers configured")
	}

	return llm.NewOrchestrator(built, llm.FailoverConfig{
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
	}), defaultCfg, nil
}

func buildProvider(name string, pc config.LLMProviderConfig) (llm.Provider, error) {
	switch models.ModelFamily(pc.Family) {
	case models.FamilyClaude:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case models.FamilyGPT:
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case models.FamilyLlama:
		return providers.NewBedrockLlamaProvider(context.Background(), providers.BedrockLlamaConfig{
			Region:       pc.Region,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unrecognized provider family %q for %q", pc.Family, name)
	}
}

func (a *app) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := channel.Accept(w, r)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	a.orchestrator.ServeConn(conn)
}

func (a *app) runReaper(stop <-chan struct{}) {
	a.reaper.Run(stop, a.table.List, func(s *models.Session) {
		s.SetState(models.StateClosed)
		a.table.Remove(s.ID)
		slog.Info("reaped idle session", "session_id", s.ID)
	})
}
