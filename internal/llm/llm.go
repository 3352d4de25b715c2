// Package llm routes completion requests to registered provider adapters.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is a provider-agnostic completion request. Provider may be left
// empty; the client infers it from the model name.
type Request struct {
	Provider    string
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	JSONOutput  bool
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "at least one message is required"}
	}
	if t := r.Temperature; t != nil && (*t < 0 || *t > 1) {
		return &ConfigurationError{Message: fmt.Sprintf("temperature out of range: %v", *t)}
	}
	return nil
}

// Response is the normalized provider result.
type Response struct {
	Message  Message
	Thinking string
	Usage    Usage
	Duration time.Duration
}

// ProviderAdapter is one upstream model API.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Client dispatches requests to adapters by provider name. The first
// registered adapter becomes the default.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
}

func NewClient() *Client {
	return &Client{providers: map[string]ProviderAdapter{}}
}

func (c *Client) Register(adapter ProviderAdapter) {
	if c.providers == nil {
		c.providers = map[string]ProviderAdapter{}
	}
	c.providers[adapter.Name()] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = adapter.Name()
	}
}

func (c *Client) SetDefaultProvider(name string) {
	c.defaultProvider = name
}

func (c *Client) ProviderNames() []string {
	if c == nil || len(c.providers) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.providers))
	for k := range c.providers {
		out = append(out, k)
	}
	return out
}

func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	prov := req.Provider
	if prov == "" {
		prov = ProviderForModel(req.Model)
	}
	if prov == "" {
		prov = c.defaultProvider
	}
	if prov == "" {
		return Response{}, &ConfigurationError{Message: "no provider specified and no default provider configured"}
	}
	adapter, ok := c.providers[prov]
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("unknown provider: %s", prov)}
	}
	req.Provider = prov

	start := time.Now()
	resp, err := adapter.Complete(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	return resp, nil
}

// ProviderForModel maps a model name to a provider key by prefix. Unknown
// models return "" and fall through to the client default.
func ProviderForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	default:
		return ""
	}
}
