package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/scoutline/scoutline/pkg/config"
)

// Bedrock model identifiers. The embedding model returns 1024-dim
// normalised vectors, matching the chunk schema.
const (
	bedrockModelID      = "anthropic.claude-3-sonnet-20240229-v1:0"
	bedrockEmbedModelID = "amazon.titan-embed-text-v2:0"
	bedrockAPIVersion   = "bedrock-2023-05-31"
)

// BedrockProvider calls Anthropic models through the Bedrock runtime.
type BedrockProvider struct {
	client      *bedrockruntime.Client
	callTimeout time.Duration
}

// NewBedrockProvider resolves AWS credentials for the configured profile
// and region. If the profile cannot be loaded it falls back to the
// default credential chain.
func NewBedrockProvider(ctx context.Context, cfg config.LLMConfig) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithSharedConfigProfile(cfg.Profile),
	)
	if err != nil {
		slog.Warn("Failed to load AWS profile, falling back to default credential chain",
			"profile", cfg.Profile, "error", err)
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &BedrockProvider{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Anthropic messages-API body shapes.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Tools            []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

// Generate invokes the chat model with the Anthropic messages format.
// System messages are folded into the system field; tool results become
// user-role tool_result blocks.
func (p *BedrockProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	system, converted := convertToAnthropic(messages)

	req := anthropicRequest{
		AnthropicVersion: bedrockAPIVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         converted,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(bedrockModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	completion := &Completion{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			completion.Content += block.Text
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return completion, nil
}

// convertToAnthropic folds system messages into one system prompt and
// maps the remaining turns onto Anthropic content blocks.
func convertToAnthropic(messages []Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case RoleTool:
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			var blocks []anthropicBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Input,
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return system, out
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns a 1024-dim normalised embedding from Titan.
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: 1024,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(bedrockEmbedModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke embedding model: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return resp.Embedding, nil
}
