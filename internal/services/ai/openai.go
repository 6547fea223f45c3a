package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/tools"
)

// OpenAIClient implements Client on an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client      *openai.Client
	tiers       config.TierModels
	maxTokens   int
	temperature float32
	timeout     time.Duration
	maxRetries  int
	logger      *logrus.Logger
}

// NewOpenAIClient creates the completion client from config.
func NewOpenAIClient(cfg *config.ModelsConfig, logger *logrus.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		tiers:       cfg.Tiers,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
		maxRetries:  maxRetries,
		logger:      logger,
	}
}

// ModelFor maps a tier to its configured model ID.
func (c *OpenAIClient) ModelFor(tier models.Tier) string {
	switch tier {
	case models.TierFull:
		return c.tiers.Full
	case models.TierMini:
		return c.tiers.Mini
	default:
		return c.tiers.Nano
	}
}

// Complete runs one completion with retry and backoff. Client errors
// (4xx) are not retried; they never fix themselves.
func (c *OpenAIClient) Complete(ctx context.Context, tier models.Tier, messages []Message, defs []tools.Definition) (*Completion, error) {
	model := c.ModelFor(tier)
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Tools:       toOpenAITools(defs),
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.createWithTimeout(ctx, req)
		if err == nil {
			return decode(resp), nil
		}
		lastErr = err

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			return nil, fmt.Errorf("completion failed with client error: %w", err)
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"model":   model,
			"attempt": attempt,
		}).Warn("Completion request failed, retrying...")

		if attempt < c.maxRetries {
			// Exponential backoff: 2s, 4s, 8s
			wait := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("all retry attempts failed: %w", lastErr)
}

func (c *OpenAIClient) createWithTimeout(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.client.CreateChatCompletion(ctx, req)
}

// decode collapses the provider's duck-shaped response into the tagged
// Completion variant. Empty choices are a value, not an error.
func decode(resp openai.ChatCompletionResponse) *Completion {
	if len(resp.Choices) == 0 {
		return &Completion{Kind: KindEmpty}
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		calls := make([]models.ToolInvocation, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, models.ToolInvocation{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return &Completion{Kind: KindToolRequested, ToolCalls: calls}
	}

	if msg.Content == "" {
		return &Completion{Kind: KindEmpty}
	}
	return &Completion{Kind: KindFinal, Content: msg.Content}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(defs []tools.Definition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
