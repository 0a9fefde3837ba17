package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/toolbridge/internal/llm"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// BedrockLlamaConfig holds the parameters needed to construct a
// BedrockLlamaProvider.
type BedrockLlamaConfig struct {
	Region       string
	DefaultModel string // e.g. "meta.llama3-1-70b-instruct-v1:0"
}

// llamaPrompt is the wire body Bedrock's Llama models accept: a single
// rendered prompt string plus generation parameters, rather than a
// structured message list — the Llama family's invocation shape named in
// §4.4.
type llamaPrompt struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxGenLen   int     `json:"max_gen_len,omitempty"`
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	StopReason           string `json:"stop_reason"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
}

// BedrockLlamaProvider implements llm.Provider for Meta Llama models
// hosted on Amazon Bedrock, speaking the Llama family wire shape: history
// is flattened into one text prompt, and tool results are marked inline
// with an "is_tool_result" tag rather than carried as structured blocks,
// since the Llama instruct prompt format has no native tool-result
// concept.
type BedrockLlamaProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockLlamaProvider constructs a provider using the default AWS
// credential chain for the given region.
func NewBedrockLlamaProvider(ctx context.Context, cfg BedrockLlamaConfig) (*BedrockLlamaProvider, error) {
	if cfg.Region == "" {
		return nil, errors.New("bedrock: region is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "meta.llama3-1-70b-instruct-v1:0"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockLlamaProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements llm.Provider.
func (p *BedrockLlamaProvider) Name() string { return "bedrock-llama" }

// Family implements llm.Provider.
func (p *BedrockLlamaProvider) Family() models.ModelFamily { return models.FamilyLlama }

// Complete implements llm.Provider.
func (p *BedrockLlamaProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	prompt := renderLlamaPrompt(req.SystemPrompt, req.Messages)

	maxGenLen := req.MaxTokens
	if maxGenLen <= 0 {
		maxGenLen = 2048
	}

	body, err := json.Marshal(llamaPrompt{
		Prompt:      prompt,
		Temperature: req.Temperature,
		MaxGenLen:   maxGenLen,
	})
	if err != nil {
		return llm.Response{}, llm.Classify(err, llm.ClassPermanent)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.defaultModel),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return llm.Response{}, classifyBedrockError(err)
	}

	var resp llamaResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return llm.Response{}, llm.Classify(fmt.Errorf("bedrock: decode response: %w", err), llm.ClassRetryable)
	}

	return fromLlamaResponse(resp), nil
}

// renderLlamaPrompt flattens history into a single text prompt. A tool
// result is rendered as "[tool_result for=<id> is_tool_result=true]\n<content>"
// so the model can distinguish it from ordinary user text even without a
// structured field for it — the text+is_tool_result marker framing named
// in §4.4 for the Llama family.
func renderLlamaPrompt(systemPrompt string, msgs []*models.Message) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString("[system]\n")
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			b.WriteString("[user]\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case models.RoleAssistant:
			b.WriteString("[assistant]\n")
			b.WriteString(m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "[tool_call id=%s name=%s]%s\n", tc.ID, tc.Name, string(tc.Input))
			}
			b.WriteString("\n\n")
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				fmt.Fprintf(&b, "[tool_result for=%s is_tool_result=true]\n%s\n\n", tr.ToolCallID, tr.Content)
			}
		}
	}
	b.WriteString("[assistant]\n")
	return b.String()
}

func fromLlamaResponse(resp llamaResponse) llm.Response {
	text, calls := extractLlamaToolCalls(resp.Generation)
	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	}
	return llm.Response{
		Assistant:        assistant,
		Text:             text,
		PendingToolCalls: calls,
		StopReason:       resp.StopReason,
	}
}

// extractLlamaToolCalls looks for an inline
// "[tool_call id=... name=...]{json}" marker in the generation — the same
// form renderLlamaPrompt uses for past tool calls; the prompt carries no
// separate instruction to emit it — since Llama's Bedrock invocation has
// no structured tool-calling field of its own.
func extractLlamaToolCalls(generation string) (string, []models.ToolCall) {
	const marker = "[tool_call "
	idx := strings.Index(generation, marker)
	if idx < 0 {
		return generation, nil
	}

	text := strings.TrimSpace(generation[:idx])
	rest := generation[idx+len(marker):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return text, nil
	}
	header := rest[:end]
	payload := strings.TrimSpace(rest[end+1:])

	var id, name string
	for _, field := range strings.Fields(header) {
		if v, ok := strings.CutPrefix(field, "id="); ok {
			id = v
		}
		if v, ok := strings.CutPrefix(field, "name="); ok {
			name = v
		}
	}
	if id == "" || name == "" {
		return text, nil
	}

	return text, []models.ToolCall{{ID: id, Name: name, Input: json.RawMessage(payload)}}
}

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return llm.Classify(err, llm.ClassRateLimited)
		case "AccessDeniedException", "UnrecognizedClientException":
			return llm.Classify(err, llm.ClassAuth)
		case "ValidationException":
			if containsFold(apiErr.ErrorMessage(), "too long") || containsFold(apiErr.ErrorMessage(), "context") {
				return llm.Classify(err, llm.ClassContextTooLong)
			}
			return llm.Classify(err, llm.ClassPermanent)
		case "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException":
			return llm.Classify(err, llm.ClassRetryable)
		}
	}
	return llm.Classify(err, llm.ClassRetryable)
}
