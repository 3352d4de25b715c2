package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/llm"
	"github.com/foundryhq/foundry/internal/logging"
	"github.com/foundryhq/foundry/internal/workflow"
)

type fakeAgent struct {
	result AgentResult
	err    error
	seen   *AgentRequest
}

func (f *fakeAgent) Run(_ context.Context, req AgentRequest) (AgentResult, error) {
	f.seen = &req
	return f.result, f.err
}

type fakeSlash struct {
	result AgentResult
	cmd    string
	args   string
}

func (f *fakeSlash) RunSlash(_ context.Context, command, args string, _ time.Duration) (AgentResult, error) {
	f.cmd, f.args = command, args
	return f.result, nil
}

func rcTest() *engine.RunContext {
	return &engine.RunContext{Logger: logging.Discard()}
}

func TestAgentNodeInterpolatesPromptAndAppendsMessage(t *testing.T) {
	agent := &fakeAgent{result: AgentResult{
		Success: true,
		Output:  "plan ready",
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 4},
	}}
	def := workflow.Definition{
		Name: "PLAN", Kind: workflow.KindAgent, ThenLiteral: workflow.SentinelEnd,
		Agent: &workflow.AgentConfig{
			Prompt: "Plan issue #{{issueNumber}}: {{issueTitle}}",
			Model:  "claude-sonnet-4",
		},
	}
	rt := newAgentRuntime(def, Deps{Agent: agent})
	st := workflow.NewState("PLAN", map[string]any{"issueNumber": 42, "issueTitle": "Fix parser"})
	delta, _, err := rt.Execute(context.Background(), st, rcTest())
	if err != nil {
		t.Fatal(err)
	}
	if agent.seen.Prompt != "Plan issue #42: Fix parser" {
		t.Errorf("prompt = %q", agent.seen.Prompt)
	}
	rec := delta.Context[KeyAgentResult].(map[string]any)
	if rec["success"] != true {
		t.Errorf("record = %v", rec)
	}
	usage := rec["usage"].(map[string]any)
	if usage["inputTokens"] != 10 {
		t.Errorf("usage = %v", usage)
	}
	if len(delta.Messages) != 1 || delta.Messages[0].Content != "plan ready" {
		t.Errorf("messages = %v", delta.Messages)
	}
}

func TestAgentNodeThrowOnErrorDefaultTrue(t *testing.T) {
	agent := &fakeAgent{err: errors.New("provider down")}
	def := workflow.Definition{
		Name: "A", Kind: workflow.KindAgent, ThenLiteral: workflow.SentinelEnd,
		Agent: &workflow.AgentConfig{Prompt: "go"},
	}
	rt := newAgentRuntime(def, Deps{Agent: agent})
	delta, _, err := rt.Execute(context.Background(), workflow.NewState("A", nil), rcTest())
	if err == nil {
		t.Fatal("want error")
	}
	rec := delta.Context[KeyAgentResult].(map[string]any)
	if rec["success"] != false || rec["error"] != "provider down" {
		t.Errorf("record = %v", rec)
	}
}

func TestAgentNodeRecordsFailureWhenNotThrowing(t *testing.T) {
	noThrow := false
	agent := &fakeAgent{result: AgentResult{Success: false, Error: "soft fail"}}
	def := workflow.Definition{
		Name: "A", Kind: workflow.KindAgent, ThenLiteral: workflow.SentinelEnd,
		Agent: &workflow.AgentConfig{Prompt: "go", ThrowOnError: &noThrow},
	}
	rt := newAgentRuntime(def, Deps{Agent: agent})
	_, _, err := rt.Execute(context.Background(), workflow.NewState("A", nil), rcTest())
	if err != nil {
		t.Fatalf("should not throw: %v", err)
	}
}

func TestDynamicAgentResolvesFromState(t *testing.T) {
	agent := &fakeAgent{result: AgentResult{Success: true, Output: "done"}}
	def := workflow.Definition{
		Name: "IMPLEMENT", Kind: workflow.KindDynamicAgent, ThenLiteral: workflow.SentinelEnd,
		DynamicAgent: &workflow.DynamicAgentConfig{
			Prompt: func(st *workflow.State) string {
				return "Implement task: " + st.GetString("currentTask", "?")
			},
			Model: func(*workflow.State) string { return "claude-sonnet-4" },
		},
	}
	rt := newDynamicAgentRuntime(def, Deps{Agent: agent})
	st := workflow.NewState("IMPLEMENT", map[string]any{"currentTask": "wire the parser"})
	if _, _, err := rt.Execute(context.Background(), st, rcTest()); err != nil {
		t.Fatal(err)
	}
	if agent.seen.Prompt != "Implement task: wire the parser" || agent.seen.Model != "claude-sonnet-4" {
		t.Errorf("request = %+v", agent.seen)
	}
}

func TestSlashNodeInterpolatesArgs(t *testing.T) {
	slash := &fakeSlash{result: AgentResult{Success: true, Output: "ran"}}
	def := workflow.Definition{
		Name: "REVIEW", Kind: workflow.KindSlashCommand, ThenLiteral: workflow.SentinelEnd,
		Slash: &workflow.SlashConfig{CommandName: "review", Args: "--pr {{prNumber}}"},
	}
	rt := newSlashRuntime(def, Deps{Slash: slash})
	st := workflow.NewState("REVIEW", map[string]any{"prNumber": 12})
	delta, _, err := rt.Execute(context.Background(), st, rcTest())
	if err != nil {
		t.Fatal(err)
	}
	if slash.cmd != "review" || slash.args != "--pr 12" {
		t.Errorf("slash call = %q %q", slash.cmd, slash.args)
	}
	rec := delta.Context[KeySlashCommandResult].(map[string]any)
	if rec["success"] != true {
		t.Errorf("record = %v", rec)
	}
}

func TestBuildRejectsMissingProviders(t *testing.T) {
	cfg := &workflow.Config{
		ID:          "w",
		SchemaNames: []string{"A"},
		Nodes: []workflow.Definition{{
			Name: "A", Kind: workflow.KindAgent, ThenLiteral: workflow.SentinelEnd,
			Agent: &workflow.AgentConfig{Prompt: "go"},
		}},
	}
	if _, err := Build(cfg, Deps{}); err == nil {
		t.Fatal("want error without agent provider")
	}
	if _, err := Build(cfg, Deps{Agent: &fakeAgent{}}); err != nil {
		t.Fatalf("Build: %v", err)
	}
}
