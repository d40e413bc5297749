// Package llm sends short chat prompts to a hosted text model. Providers are
// selected with "provider/model" strings such as "gemini/gemini-2.0-flash".
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrMissingKey    = errors.New("api key not configured")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Keys holds one API key per provider.
type Keys struct {
	Gemini    string
	OpenAI    string
	Anthropic string
}

func (k Keys) For(provider string) string {
	switch provider {
	case "gemini":
		return k.Gemini
	case "openai":
		return k.OpenAI
	case "anthropic":
		return k.Anthropic
	}
	return ""
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

const defaultMaxTokens = 1024

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the length of a reply.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// FromModel parses a "provider/model" string and builds a client with the
// matching key.
func FromModel(model string, keys Keys, opts ...Option) (Client, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(keys.For(provider))
	if key == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingKey)
	}
	return NewClient(provider, key, name, opts...)
}

func hasUserMessage(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}
