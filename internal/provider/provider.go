// Package provider wraps the hosted chat-completion API behind a small
// client interface the session engine can call.
package provider

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for failure classification. Rate limits are retried with
// backoff inside the client; Unavailable surfaces after retries are
// exhausted.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("provider unavailable")
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the model's reply plus accounting metadata.
type Response struct {
	Content    string    `json:"content"`
	TokensUsed int       `json:"tokens_used"`
	Model      string    `json:"model"`
	Timestamp  time.Time `json:"timestamp"`
}

// Options adjusts a single request. Zero values fall back to the client's
// defaults.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Client is the LLM collaborator contract.
type Client interface {
	// Ask sends a single prompt with no history.
	Ask(ctx context.Context, prompt string, opts Options) (*Response, error)

	// AskWithHistory sends an ordered conversation and returns the next
	// assistant message.
	AskWithHistory(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// EstimateTokens approximates the token count of text at four characters
// per token, matching the accounting used when the API omits usage data.
func EstimateTokens(text string) int {
	return len(text) / 4
}
