// Package openaicompat adapts any chat.completions-compatible endpoint to the
// llm.ProviderAdapter interface. OpenAI itself and most proxy gateways speak
// this shape, so one adapter covers several providers.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/llm"
)

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Path         string
	ExtraHeaders map[string]string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

const defaultRequestTimeout = 10 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	requestCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	body, err := toChatCompletionsBody(req)
	if err != nil {
		return llm.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, wrapContextError(a.cfg.Provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, wrapContextError(a.cfg.Provider, err)
	}
	defer resp.Body.Close()

	out, err := parseChatCompletionsResponse(a.cfg.Provider, resp)
	if err != nil {
		return llm.Response{}, err
	}
	out.Duration = time.Since(start)
	return out, nil
}

func toChatCompletionsBody(req llm.Request) ([]byte, error) {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.JSONOutput {
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	return json.Marshal(body)
}

type chatCompletionsDoc struct {
	Choices []struct {
		Message struct {
			Role             string `json:"role"`
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseChatCompletionsResponse(provider string, resp *http.Response) (llm.Response, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return llm.Response{}, wrapContextError(provider, err)
	}

	var doc chatCompletionsDoc
	decodeErr := json.Unmarshal(rawBytes, &doc)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(doc.Error.Message)
		if msg == "" {
			msg = strings.TrimSpace(string(rawBytes))
		}
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return llm.Response{}, llm.ErrorFromHTTPStatus(provider, resp.StatusCode, msg, ra)
	}
	if decodeErr != nil {
		return llm.Response{}, llm.ErrorFromHTTPStatus(provider, resp.StatusCode, "undecodable completion body", nil)
	}
	if len(doc.Choices) == 0 {
		return llm.Response{}, llm.ErrorFromHTTPStatus(provider, resp.StatusCode, "completion returned no choices", nil)
	}

	choice := doc.Choices[0]
	role := choice.Message.Role
	if role == "" {
		role = "assistant"
	}
	return llm.Response{
		Message:  llm.Message{Role: role, Content: choice.Message.Content},
		Thinking: choice.Message.ReasoningContent,
		Usage: llm.Usage{
			InputTokens:  doc.Usage.PromptTokens,
			OutputTokens: doc.Usage.CompletionTokens,
		},
	}, nil
}

func wrapContextError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewRequestTimeoutError(provider, err.Error())
	}
	return err
}
