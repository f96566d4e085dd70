package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/pkg/anthropic"
	"github.com/autumnsgrove/clearing-cli/pkg/openrouter"
)

// OpenRouterChat adapts the OpenRouter client to the Chat interface.
type OpenRouterChat struct {
	client openrouter.Client
}

// NewOpenRouterChat wraps an OpenRouter client.
func NewOpenRouterChat(client openrouter.Client) *OpenRouterChat {
	return &OpenRouterChat{client: client}
}

func (a *OpenRouterChat) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openrouter.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openrouter.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openrouter.Message{Role: m.Role, Content: m.Content})
	}

	orReq := openrouter.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		orReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		orReq.Temperature = &req.Temperature
	}

	resp, err := a.client.ChatCompletion(ctx, orReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindInvalidResponse, "openrouter", eris.New("response has no choices"))
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// AnthropicChat adapts the direct Anthropic client to the Chat interface.
type AnthropicChat struct {
	client anthropic.Client
}

// NewAnthropicChat wraps an Anthropic client.
func NewAnthropicChat(client anthropic.Client) *AnthropicChat {
	return &AnthropicChat{client: client}
}

func (a *AnthropicChat) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	aReq := anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		// The same system prompt repeats across every per-article call in a
		// run, so it is worth a cache breakpoint.
		aReq.System = anthropic.CachedSystem(req.System)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		aReq.Temperature = &temp
	}
	for _, m := range req.Messages {
		aReq.Messages = append(aReq.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := a.client.CreateMessage(ctx, aReq)
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, NewError(KindInvalidResponse, "anthropic", eris.New("response has no text content"))
	}

	return &Response{
		Text:  text,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
