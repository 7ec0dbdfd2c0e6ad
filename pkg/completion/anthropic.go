package completion

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// Anthropic completes prompts through the Messages API.
type Anthropic struct {
	client    anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic completer. SDK-level retries are
// disabled; WithRetry owns retry policy.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &Anthropic{
		client:    anthropicsdk.NewClient(opts...),
		model:     anthropicsdk.Model(model),
		maxTokens: maxTokens,
	}, nil
}

// Complete sends prompt as a single user turn and joins the text blocks of
// the reply.
func (a *Anthropic) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropicsdk.Float(temperature),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("anthropic: no text in response")
	}
	return strings.Join(parts, "\n"), nil
}
