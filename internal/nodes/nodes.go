// Package nodes turns workflow definitions into executable runtimes.
package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/llm"
	"github.com/foundryhq/foundry/internal/tracker"
	"github.com/foundryhq/foundry/internal/workflow"
)

// Default result keys, one per node kind.
const (
	KeyAgentResult          = "lastAgentResult"
	KeyCommandResult        = "lastCommandResult"
	KeyDynamicCommandResult = "lastDynamicCommandResult"
	KeySlashCommandResult   = "lastSlashCommandResult"
	KeyEvalResult           = "lastEvalResult"
	KeyLLMResult            = "lastLLMResult"
	KeyHTTPResult           = "lastHttpResult"
	KeyCheckoutResult       = "lastCheckoutResult"
	KeyProjectResult        = "lastProjectResult"
	KeyCommentResult        = "lastCommentResult"
	KeyPRVisualizerResult   = "lastPRVisualizerResult"

	// KeyWorkDir is the canonical work-directory key downstream nodes read.
	KeyWorkDir = "workDir"
)

// AgentRequest is what an agent provider receives. Prompts arrive already
// interpolated against the run context.
type AgentRequest struct {
	Role         string
	SystemPrompt string
	Prompt       string
	Capabilities []string
	Model        string
	MaxTurns     int
	Temperature  *float64
	WorkDir      string
}

// AgentResult is the provider's structured outcome.
type AgentResult struct {
	Success       bool
	Output        string
	Error         string
	Usage         llm.Usage
	Thinking      string
	FilesAffected []string
}

// AgentProvider runs tool-using agent sessions. Implementations wrap an SDK
// or a CLI; the nodes only see this surface.
type AgentProvider interface {
	Run(ctx context.Context, req AgentRequest) (AgentResult, error)
}

// SlashProvider executes /<command> <args> interactive sessions.
type SlashProvider interface {
	RunSlash(ctx context.Context, command, args string, timeout time.Duration) (AgentResult, error)
}

// Deps are the external collaborators node runtimes close over.
type Deps struct {
	LLM     *llm.Client
	Agent   AgentProvider
	Slash   SlashProvider
	Tracker *tracker.Client
	Project *tracker.Project // nil when no board is configured
	Getenv  func(string) string
}

func (d Deps) getenv(key string) string {
	if d.Getenv != nil {
		return d.Getenv(key)
	}
	return ""
}

// runtime adapts one definition plus an executor to engine.Runtime.
type runtime struct {
	def  workflow.Definition
	exec func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error)
}

func (r *runtime) Name() string                { return r.def.Name }
func (r *runtime) Kind() workflow.Kind         { return r.def.Kind }
func (r *runtime) Next() workflow.Transition   { return r.def.Transition() }
func (r *runtime) Execute(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
	return r.exec(ctx, st, rc)
}

// Build compiles a validated config into engine runtimes.
func Build(cfg *workflow.Config, deps Deps) ([]engine.Runtime, error) {
	if _, err := workflow.Validate(cfg); err != nil {
		return nil, err
	}
	out := make([]engine.Runtime, 0, len(cfg.Nodes))
	for i := range cfg.Nodes {
		rt, err := buildOne(cfg.Nodes[i], deps)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

// BuildNode compiles a single definition outside a full config. The caller
// owns cross-node validation; engine.New still rejects duplicate names.
func BuildNode(def workflow.Definition, deps Deps) (engine.Runtime, error) {
	return buildOne(def, deps)
}

func buildOne(def workflow.Definition, deps Deps) (engine.Runtime, error) {
	switch def.Kind {
	case workflow.KindEval:
		return newEvalRuntime(def), nil
	case workflow.KindCommand:
		return newCommandRuntime(def), nil
	case workflow.KindDynamicCommand:
		return newDynamicCommandRuntime(def), nil
	case workflow.KindSlashCommand:
		if deps.Slash == nil {
			return nil, fmt.Errorf("node %s: no slash-command provider configured", def.Name)
		}
		return newSlashRuntime(def, deps), nil
	case workflow.KindAgent:
		if deps.Agent == nil {
			return nil, fmt.Errorf("node %s: no agent provider configured", def.Name)
		}
		return newAgentRuntime(def, deps), nil
	case workflow.KindDynamicAgent:
		if deps.Agent == nil {
			return nil, fmt.Errorf("node %s: no agent provider configured", def.Name)
		}
		return newDynamicAgentRuntime(def, deps), nil
	case workflow.KindLLM:
		if deps.LLM == nil {
			return nil, fmt.Errorf("node %s: no llm client configured", def.Name)
		}
		return newLLMRuntime(def, deps), nil
	case workflow.KindHTTP:
		return newHTTPRuntime(def), nil
	case workflow.KindGitCheckout:
		return newCheckoutRuntime(def, deps), nil
	default:
		return nil, fmt.Errorf("node %s: unbuildable kind %q", def.Name, def.Kind)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func keyOr(key, def string) string {
	if key != "" {
		return key
	}
	return def
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// resultDelta stashes a result record under the node's result key.
func resultDelta(key string, record map[string]any) workflow.Delta {
	return workflow.Delta{Context: map[string]any{key: record}}
}
