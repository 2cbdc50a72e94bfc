package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/agentx/aitalk/internal/config"
)

// NewClient creates an OpenAI API client from config. A custom base URL
// points it at any OpenAI-compatible endpoint.
func NewClient(cfg config.OpenAIConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(clientConfig)
}

// OpenAIProvider implements ChatProvider on the chat completions API
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a provider with the configured chat model and
// generation defaults.
func NewOpenAIProvider(client *openai.Client, cfg config.OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client:      client,
		model:       cfg.ChatModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// WithMaxTokens returns a copy of the provider with a different token limit.
func (p *OpenAIProvider) WithMaxTokens(n int) *OpenAIProvider {
	cp := *p
	cp.maxTokens = n
	return &cp
}

// Model returns the chat model name
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete sends prompt as a single user message
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, []Message{User(prompt)}, Options{})
}

// Chat performs a non-streaming chat completion
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
