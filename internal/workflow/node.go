package workflow

import (
	"time"
)

// Kind discriminates the node definition union.
type Kind string

const (
	KindAgent          Kind = "agent"
	KindCommand        Kind = "command"
	KindSlashCommand   Kind = "slash_command"
	KindEval           Kind = "eval"
	KindDynamicAgent   Kind = "dynamic_agent"
	KindDynamicCommand Kind = "dynamic_command"
	KindLLM            Kind = "llm"
	KindHTTP           Kind = "http"
	KindGitCheckout    Kind = "git_checkout"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAgent, KindCommand, KindSlashCommand, KindEval, KindDynamicAgent,
		KindDynamicCommand, KindLLM, KindHTTP, KindGitCheckout:
		return true
	default:
		return false
	}
}

// Transition resolves the successor of a node from the post-execution state.
// Literal successors are constant-returning functions (see Goto). The error
// return carries type failures from expression-compiled transitions.
type Transition func(*State) (string, error)

// Goto returns a transition that ignores the state and always routes to name.
func Goto(name string) Transition {
	return func(*State) (string, error) { return name, nil }
}

// If routes to whenTrue when pred holds and whenFalse otherwise.
func If(pred func(*State) bool, whenTrue, whenFalse string) Transition {
	return func(s *State) (string, error) {
		if pred(s) {
			return whenTrue, nil
		}
		return whenFalse, nil
	}
}

// Definition is one declarative node. Exactly one config field matching Kind
// is set; the rest are nil.
type Definition struct {
	Name string
	Kind Kind

	// Then is the transition predicate. ThenLiteral names a constant
	// successor; when set and Then is nil, the effective transition is
	// Goto(ThenLiteral). Only literal successors participate in the static
	// reachability walk.
	Then        Transition
	ThenLiteral string

	Agent          *AgentConfig
	Command        *CommandConfig
	Slash          *SlashConfig
	Eval           *EvalConfig
	DynamicAgent   *DynamicAgentConfig
	DynamicCommand *DynamicCommandConfig
	LLM            *LLMConfig
	HTTP           *HTTPConfig
	Checkout       *CheckoutConfig
}

type AgentConfig struct {
	Role         string
	SystemPrompt string
	Prompt       string
	Capabilities []string
	Model        string
	MaxTurns     int
	Temperature  *float64
	ResultKey    string // default "lastAgentResult"
	ThrowOnError *bool  // default true
}

type CommandConfig struct {
	Command      string
	Cwd          string
	Env          map[string]string
	Timeout      time.Duration // default 300s
	ThrowOnError *bool         // default true
	ResultKey    string        // default "lastCommandResult"
}

type SlashConfig struct {
	CommandName string
	Args        string
	Timeout     time.Duration // default 600s
	ResultKey   string        // default "lastSlashCommandResult"
}

type EvalConfig struct {
	// Transform is a synchronous pure function of the state. It returns a
	// partial context merged in by the engine. No I/O, no suspension.
	Transform func(*State) (map[string]any, error)
	ResultKey string // default "lastEvalResult"
}

type DynamicAgentConfig struct {
	Model        func(*State) string
	Prompt       func(*State) string
	System       func(*State) string
	Capabilities func(*State) []string
	MaxTurns     func(*State) int
	Temperature  func(*State) *float64
	ResultKey    string
	ThrowOnError *bool
}

// DynamicCommandConfig resolves the command from state at execution time.
// Argv takes precedence over Command; an argv bypasses the shell entirely.
type DynamicCommandConfig struct {
	Command      func(*State) string
	Argv         func(*State) []string
	Cwd          func(*State) string
	Env          func(*State) map[string]string
	Timeout      time.Duration
	ThrowOnError *bool
	ResultKey    string // default "lastDynamicCommandResult"
}

type LLMConfig struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	MaxTokens    int
	OutputMode   string // "text" (default) or "json"
	ResultKey    string // default "lastLLMResult"
	ThrowOnError *bool  // default true
}

type HTTPConfig struct {
	Method    string
	URL       string
	URLFn     func(*State) string
	Body      any
	BodyFn    func(*State) any
	Query     map[string]string
	Headers   map[string]string
	Timeout   time.Duration // default 30s
	ResultKey string        // default "lastHttpResult"
}

type CheckoutConfig struct {
	UseIssueContext bool
	Owner           string
	Repo            string
	Ref             string
	Depth           int   // default 1 (shallow)
	SkipIfExists    *bool // default true
	WorkDir         string
	TokenEnv        string        // default "GITHUB_TOKEN"
	Timeout         time.Duration // default 120s for clone
}

// Config is a full workflow declaration.
type Config struct {
	ID             string
	SchemaNames    []string
	Nodes          []Definition
	InitialContext map[string]any
}

// Transition returns the effective transition for the node.
func (d *Definition) Transition() Transition {
	if d.Then != nil {
		return d.Then
	}
	if d.ThenLiteral != "" {
		return Goto(d.ThenLiteral)
	}
	return nil
}

// Entry returns the entry node name (the first node in the list).
func (c *Config) Entry() string {
	if c == nil || len(c.Nodes) == 0 {
		return ""
	}
	return c.Nodes[0].Name
}

// NameSet returns the schema names as a set.
func (c *Config) NameSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.SchemaNames))
	for _, n := range c.SchemaNames {
		set[n] = struct{}{}
	}
	return set
}
