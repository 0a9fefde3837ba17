// Package providers implements LLM provider bindings for C4: one binding
// per supported model family (Claude, GPT, Llama), each converting the
// family-agnostic llm.Request/llm.Response shape into its own SDK's types
// and back.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/toolbridge/internal/llm"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// AnthropicConfig holds the parameters needed to construct an
// AnthropicProvider. Only APIKey is required; everything else defaults.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider implements llm.Provider for Anthropic's Claude
// Messages API, speaking the Claude content-block family: assistant
// messages carry a Blocks list mixing text, tool_use, and tool_result
// elements rather than the flat tool_calls/tool_results list GPT and
// Llama use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs a provider, failing fast if no API key
// is supplied — there is no way to reach the Messages API without one.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements llm.Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Family implements llm.Provider.
func (p *AnthropicProvider) Family() models.ModelFamily { return models.FamilyClaude }

// Complete implements llm.Provider by converting req into the Messages
// API's request shape, issuing a single (non-streaming) call, and
// converting the reply back into the block-tagged Claude family shape.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	msgs, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return llm.Response{}, llm.Classify(err, llm.ClassPermanent)
	}

	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return llm.Response{}, llm.Classify(err, llm.ClassPermanent)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: maxTokens,
		Messages:  msgs,
		Tools:     tools,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyAnthropicError(err)
	}

	return fromAnthropicMessage(msg), nil
}

func toAnthropicMessages(msgs []*models.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue // carried separately via params.System
		}
		blocks, err := toAnthropicBlocks(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case models.RoleUser, models.RoleTool:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

func toAnthropicBlocks(m *models.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var out []anthropic.ContentBlockParamUnion

	if len(m.Blocks) > 0 {
		for _, b := range m.Blocks {
			switch b.Kind {
			case models.BlockText:
				out = append(out, anthropic.NewTextBlock(b.Text))
			case models.BlockToolUse:
				var input any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("anthropic: invalid tool_use input: %w", err)
					}
				}
				out = append(out, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case models.BlockToolResult:
				out = append(out, anthropic.NewToolResultBlock(b.ToolResultForID, b.ToolResultContent, b.ToolResultIsError))
			}
		}
		return out, nil
	}

	if m.Content != "" {
		out = append(out, anthropic.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var input any
		if len(tc.Input) > 0 {
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call input: %w", err)
			}
		}
		out = append(out, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	for _, tr := range m.ToolResults {
		out = append(out, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}
	return out, nil
}

func toAnthropicTools(tools []*models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: missing tool definition for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}

// fromAnthropicMessage converts a Messages API reply into a Claude-family
// models.Message and the flattened llm.Response view C4/C5 need.
func fromAnthropicMessage(msg *anthropic.Message) llm.Response {
	blocks := make([]models.ContentBlock, 0, len(msg.Content))
	var text string
	var pending []models.ToolCall

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, models.ContentBlock{Kind: models.BlockText, Text: variant.Text})
			text += variant.Text
		case anthropic.ToolUseBlock:
			input := json.RawMessage(variant.Input)
			blocks = append(blocks, models.ContentBlock{
				Kind:      models.BlockToolUse,
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				ToolInput: input,
			})
			pending = append(pending, models.ToolCall{ID: variant.ID, Name: variant.Name, Input: input})
		}
	}

	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   text,
		Blocks:    blocks,
		CreatedAt: time.Now(),
	}

	return llm.Response{
		Assistant:        assistant,
		Text:             text,
		PendingToolCalls: pending,
		StopReason:       string(msg.StopReason),
	}
}

// classifyAnthropicError maps the SDK's error shape to an llm.Classification
// so the failover orchestrator can decide retry/failover/give-up without
// string-matching.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llm.Classify(err, llm.ClassAuth)
		case 429:
			return llm.Classify(err, llm.ClassRateLimited)
		case 400:
			if isContextLengthError(apiErr.Message) {
				return llm.Classify(err, llm.ClassContextTooLong)
			}
			return llm.Classify(err, llm.ClassPermanent)
		default:
			if apiErr.StatusCode >= 500 {
				return llm.Classify(err, llm.ClassRetryable)
			}
		}
	}
	return llm.Classify(err, llm.ClassRetryable)
}

func isContextLengthError(msg string) bool {
	return containsFold(msg, "context length") || containsFold(msg, "maximum context") || containsFold(msg, "too many tokens")
}
