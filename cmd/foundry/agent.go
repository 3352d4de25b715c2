package main

import (
	"context"
	"os"
	"strconv"

	"github.com/foundryhq/foundry/internal/llm"
	"github.com/foundryhq/foundry/internal/nodes"
)

// agentBridge satisfies nodes.AgentProvider on top of the plain completion
// client. It is single-shot: no tool loop, no file tracking. A real agent
// SDK can replace it behind the same interface.
type agentBridge struct {
	client *llm.Client
}

func newAgentBridge() *agentBridge {
	return &agentBridge{client: newLLMClient()}
}

func (a *agentBridge) Run(ctx context.Context, req nodes.AgentRequest) (nodes.AgentResult, error) {
	model := req.Model
	if model == "" {
		model = modelFromEnv()
	}
	resp, err := a.client.Complete(ctx, llm.Request{
		Model:       model,
		System:      req.SystemPrompt,
		Messages:    []llm.Message{llm.User(req.Prompt)},
		Temperature: req.Temperature,
		MaxTokens:   maxTokensFromEnv(),
	})
	if err != nil {
		return nodes.AgentResult{Success: false, Error: err.Error()}, err
	}
	return nodes.AgentResult{
		Success:  true,
		Output:   resp.Message.Content,
		Thinking: resp.Thinking,
		Usage:    resp.Usage,
	}, nil
}

func maxTokensFromEnv() int {
	if n, err := strconv.Atoi(os.Getenv("GRAPH_MAX_TOKENS")); err == nil && n > 0 {
		return n
	}
	return 8192
}
