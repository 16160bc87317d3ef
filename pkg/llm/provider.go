// Package llm abstracts the upstream large-language-model providers behind a
// single completion interface.
package llm

import (
	"context"
	"fmt"
	"time"
)

// DefaultRequestTimeout bounds a single upstream call.
const DefaultRequestTimeout = 30 * time.Second

// ChatMessage is one conversation turn sent upstream.
type ChatMessage struct {
	Role    string
	Content string
}

// Request contains the parameters for a completion call. The system prompt is
// carried separately from the history; providers prepend it in their native
// format.
type Request struct {
	Model        string
	Messages     []ChatMessage
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Usage reports upstream token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the upstream reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is an upstream LLM API client.
type Provider interface {
	// Complete sends the conversation and returns the generated reply.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
