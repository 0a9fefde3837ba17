package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/toolbridge/internal/llm"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// OpenAIConfig holds the parameters needed to construct an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider implements llm.Provider for the Chat Completions API,
// speaking the GPT family wire shape: a flat message list where an
// assistant message's tool calls live in ToolCalls and a tool message's
// result lives in Content with ToolCallID set, rather than Claude's
// content-block list.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs a provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements llm.Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Family implements llm.Provider.
func (p *OpenAIProvider) Family() models.ModelFamily { return models.FamilyGPT }

// Complete implements llm.Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := toOpenAIMessages(req.SystemPrompt, req.Messages)
	tools, err := toOpenAITools(req.Tools)
	if err != nil {
		return llm.Response{}, llm.Classify(err, llm.ClassPermanent)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.defaultModel,
		Messages:    messages,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		Stop:        req.StopSequences,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return llm.Response{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, llm.Classify(errors.New("openai: empty choices"), llm.ClassRetryable)
	}

	return fromOpenAIChoice(resp.Choices[0]), nil
}

func toOpenAIMessages(systemPrompt string, msgs []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   m.Content,
				ToolCalls: toOpenAIToolCalls(m.ToolCalls),
			})
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return out
}

func toOpenAIToolCalls(calls []models.ToolCall) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.Name,
				Arguments: string(c.Input),
			},
		}
	}
	return out
}

func toOpenAITools(tools []*models.ToolDescriptor) ([]openai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("openai: invalid schema for tool %s: %w", t.Name, err)
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func fromOpenAIChoice(choice openai.ChatCompletionChoice) llm.Response {
	msg := choice.Message

	var pending []models.ToolCall
	for _, tc := range msg.ToolCalls {
		pending = append(pending, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   msg.Content,
		ToolCalls: pending,
	}

	return llm.Response{
		Assistant:        assistant,
		Text:             msg.Content,
		PendingToolCalls: pending,
		StopReason:       string(choice.FinishReason),
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return llm.Classify(err, llm.ClassAuth)
		case 429:
			return llm.Classify(err, llm.ClassRateLimited)
		case 400:
			if containsFold(apiErr.Message, "maximum context length") || containsFold(apiErr.Message, "context_length_exceeded") {
				return llm.Classify(err, llm.ClassContextTooLong)
			}
			return llm.Classify(err, llm.ClassPermanent)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return llm.Classify(err, llm.ClassRetryable)
			}
		}
	}
	return llm.Classify(err, llm.ClassRetryable)
}
