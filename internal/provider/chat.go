// Package provider routes chat completions across LLM providers with
// ordered fallback, retry, and usage accounting.
package provider

import "context"

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic chat completion request. Model is filled
// in by the invoker from the selected candidate descriptor.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a provider-agnostic chat completion response.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Chat is implemented by each provider client adapter.
type Chat interface {
	// Complete performs one chat completion. Errors should be returned as
	// (or wrapping) *Error so the invoker can classify them.
	Complete(ctx context.Context, req Request) (*Response, error)
}
