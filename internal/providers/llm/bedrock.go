package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/pkg/logger"
)

// bedrockMessage and friends mirror Anthropic's Messages API shape, the
// same envelope the teacher's BedrockAgent sends to InvokeModel.
type bedrockMessage struct {
	Role    string               `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
	Thinking         *bedrockThinking `json:"thinking,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Bedrock is the LLM port's AWS Bedrock (Claude) adapter.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrock builds a Bedrock-backed LLM adapter for the given region
// and model id, loading credentials from the default AWS chain.
func NewBedrock(ctx context.Context, region, modelID string) (*Bedrock, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(cfg)
	logger.Info("bedrock llm adapter initialized", "model_id", modelID, "region", region)

	return &Bedrock{client: client, modelID: modelID, region: region}, nil
}

func (b *Bedrock) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	bMessages := make([]bedrockMessage, 0, len(messages))
	for _, m := range messages {
		bMessages = append(bMessages, bedrockMessage{
			Role:    m.Role,
			Content: []bedrockContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           opts.System,
		Messages:         bMessages,
		Temperature:      opts.Temperature,
	}
	if opts.ThinkingBudget > 0 {
		req.Thinking = &bedrockThinking{Type: "enabled", BudgetTokens: opts.ThinkingBudget}
		// Anthropic requires temperature 1 with extended thinking enabled.
		req.Temperature = 1
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ChatResult{}, errors.ParseFailure("marshal bedrock request", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return ChatResult{}, errors.Retriable("bedrock invoke model", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return ChatResult{}, errors.ParseFailure("unmarshal bedrock response", err)
	}

	var content, thinking string
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			content += c.Text
		case "thinking":
			thinking += c.Thinking
		}
	}

	finish := FinishStop
	if resp.StopReason == "max_tokens" {
		finish = FinishMaxTokens
	}

	return ChatResult{
		Content:  content,
		Thinking: thinking,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Finish: finish,
	}, nil
}

func (b *Bedrock) Validate(ctx context.Context) bool {
	_, err := b.Chat(ctx, []Message{{Role: "user", Content: "ping"}}, ChatOptions{MaxTokens: 8})
	return err == nil
}
