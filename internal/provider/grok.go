package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/xai-tools/grok-mcp/internal/logging"
)

// Retry tuning for transient API failures.
const (
	maxRetries           = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// GrokConfig holds configuration for the Grok client.
type GrokConfig struct {
	APIKey string
	// BaseURL defaults to the xAI endpoint.
	BaseURL string
	// Model is the default model when a request does not name one.
	Model string
	// Temperature is the default sampling temperature.
	Temperature float64
}

// Grok talks to xAI's OpenAI-compatible chat-completions API.
type Grok struct {
	chatModel model.ToolCallingChatModel
	config    GrokConfig
}

// NewGrok creates a Grok client.
func NewGrok(ctx context.Context, cfg GrokConfig) (*Grok, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("XAI_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "grok-4-fast-reasoning"
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &Grok{chatModel: chatModel, config: cfg}, nil
}

// Ask sends a single prompt with no history.
func (g *Grok) Ask(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return g.AskWithHistory(ctx, []Message{{Role: "user", Content: prompt}}, opts)
}

// AskWithHistory sends an ordered conversation and returns the next
// assistant message. Rate limits and transient failures are retried with
// exponential backoff and jitter; exhausted retries surface as
// ErrUnavailable.
func (g *Grok) AskWithHistory(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	input := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			input = append(input, schema.SystemMessage(m.Content))
		case "assistant":
			input = append(input, schema.AssistantMessage(m.Content, nil))
		default:
			input = append(input, schema.UserMessage(m.Content))
		}
	}

	modelID := opts.Model
	if modelID == "" {
		modelID = g.config.Model
	}
	temperature := g.config.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	genOpts := []model.Option{
		model.WithModel(modelID),
		model.WithTemperature(float32(temperature)),
	}
	if opts.MaxTokens > 0 {
		genOpts = append(genOpts, model.WithMaxTokens(opts.MaxTokens))
	}

	var out *schema.Message
	operation := func() error {
		var err error
		out, err = g.chatModel.Generate(ctx, input, genOpts...)
		if err == nil {
			return nil
		}
		if isRateLimited(err) {
			logging.Warn().Str("model", modelID).Err(err).Msg("rate limited, backing off")
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		if isRetryable(err) {
			logging.Warn().Str("model", modelID).Err(err).Msg("transient API error, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tokens := 0
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		tokens = out.ResponseMeta.Usage.TotalTokens
	}
	if tokens == 0 {
		tokens = EstimateTokens(out.Content)
	}

	return &Response{
		Content:    out.Content,
		TokensUsed: tokens,
		Model:      modelID,
		Timestamp:  time.Now(),
	}, nil
}

// newRetryBackoff creates an exponential backoff with jitter, bounded by the
// request context.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// isRateLimited reports whether the error is an HTTP 429 from the API.
func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// isRetryable reports whether the error is worth retrying: timeouts and
// server-side failures, not malformed requests.
func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"500", "502", "503", "504",
		"overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
