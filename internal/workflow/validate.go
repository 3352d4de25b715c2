package workflow

import (
	"fmt"
	"strings"
)

// ConfigError reports a malformed workflow at load time. The engine never
// starts on a workflow that fails validation.
type ConfigError struct {
	Workflow string
	Node     string
	Message  string
}

func (e *ConfigError) Error() string {
	parts := []string{"workflow config"}
	if e.Workflow != "" {
		parts[0] = fmt.Sprintf("workflow %q", e.Workflow)
	}
	if e.Node != "" {
		parts = append(parts, fmt.Sprintf("node %q", e.Node))
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, ": ")
}

// Diagnostic is a non-fatal validation finding (currently only unreachable nodes).
type Diagnostic struct {
	Rule    string
	Node    string
	Message string
}

// Validate applies the three defense layers in order: structural (per-variant
// field shape), referential (names vs schema, duplicates, reserved sentinels,
// entry), semantic (coverage and reachability). It returns the first error
// plus any warnings gathered before the failure.
func Validate(cfg *Config) ([]Diagnostic, error) {
	if cfg == nil {
		return nil, &ConfigError{Message: "config is nil"}
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, &ConfigError{Message: "id is required"}
	}
	if len(cfg.Nodes) == 0 {
		return nil, &ConfigError{Workflow: cfg.ID, Message: "at least one node is required"}
	}

	for i := range cfg.Nodes {
		if err := validateStructural(cfg, &cfg.Nodes[i]); err != nil {
			return nil, err
		}
	}
	if err := validateReferential(cfg); err != nil {
		return nil, err
	}
	return validateSemantic(cfg)
}

func validateStructural(cfg *Config, d *Definition) error {
	fail := func(msg string, args ...any) error {
		return &ConfigError{Workflow: cfg.ID, Node: d.Name, Message: fmt.Sprintf(msg, args...)}
	}
	if strings.TrimSpace(d.Name) == "" {
		return &ConfigError{Workflow: cfg.ID, Message: "node with empty name"}
	}
	if !d.Kind.Valid() {
		return fail("unknown kind %q", d.Kind)
	}
	if d.Transition() == nil {
		return fail("transition is required")
	}

	// Exactly one variant config, matching the kind.
	set := 0
	for _, present := range []bool{
		d.Agent != nil, d.Command != nil, d.Slash != nil, d.Eval != nil,
		d.DynamicAgent != nil, d.DynamicCommand != nil, d.LLM != nil,
		d.HTTP != nil, d.Checkout != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fail("exactly one kind config must be set, got %d", set)
	}

	switch d.Kind {
	case KindAgent:
		if d.Agent == nil {
			return fail("kind %s requires agent config", d.Kind)
		}
		if strings.TrimSpace(d.Agent.Prompt) == "" && strings.TrimSpace(d.Agent.SystemPrompt) == "" {
			return fail("agent requires a prompt or system prompt")
		}
		if d.Agent.MaxTurns < 0 {
			return fail("maxTurns must be positive")
		}
		if t := d.Agent.Temperature; t != nil && (*t < 0 || *t > 1) {
			return fail("temperature must be in [0,1], got %v", *t)
		}
	case KindCommand:
		if d.Command == nil {
			return fail("kind %s requires command config", d.Kind)
		}
		if strings.TrimSpace(d.Command.Command) == "" {
			return fail("command string is required")
		}
		if d.Command.Timeout < 0 {
			return fail("timeout must be positive")
		}
	case KindSlashCommand:
		if d.Slash == nil {
			return fail("kind %s requires slash config", d.Kind)
		}
		if strings.TrimSpace(d.Slash.CommandName) == "" {
			return fail("slash command name is required")
		}
	case KindEval:
		if d.Eval == nil || d.Eval.Transform == nil {
			return fail("eval requires a transform function")
		}
	case KindDynamicAgent:
		if d.DynamicAgent == nil || d.DynamicAgent.Prompt == nil {
			return fail("dynamic agent requires a prompt resolver")
		}
	case KindDynamicCommand:
		if d.DynamicCommand == nil || (d.DynamicCommand.Command == nil && d.DynamicCommand.Argv == nil) {
			return fail("dynamic command requires a command or argv resolver")
		}
		if d.DynamicCommand.Timeout < 0 {
			return fail("timeout must be positive")
		}
	case KindLLM:
		if d.LLM == nil {
			return fail("kind %s requires llm config", d.Kind)
		}
		if strings.TrimSpace(d.LLM.Model) == "" {
			return fail("llm model is required")
		}
		if strings.TrimSpace(d.LLM.Prompt) == "" {
			return fail("llm prompt is required")
		}
		if t := d.LLM.Temperature; t != nil && (*t < 0 || *t > 1) {
			return fail("temperature must be in [0,1], got %v", *t)
		}
		switch d.LLM.OutputMode {
		case "", "text", "json":
		default:
			return fail("invalid output mode %q (want text|json)", d.LLM.OutputMode)
		}
	case KindHTTP:
		if d.HTTP == nil {
			return fail("kind %s requires http config", d.Kind)
		}
		if strings.TrimSpace(d.HTTP.URL) == "" && d.HTTP.URLFn == nil {
			return fail("http requires a url or url resolver")
		}
		if d.HTTP.Timeout < 0 {
			return fail("timeout must be positive")
		}
	case KindGitCheckout:
		if d.Checkout == nil {
			return fail("kind %s requires checkout config", d.Kind)
		}
		if !d.Checkout.UseIssueContext &&
			(strings.TrimSpace(d.Checkout.Owner) == "" || strings.TrimSpace(d.Checkout.Repo) == "") {
			return fail("checkout requires issue context or explicit owner/repo")
		}
		if d.Checkout.Depth < 0 {
			return fail("depth must be positive")
		}
	}
	return nil
}

func validateReferential(cfg *Config) error {
	schema := cfg.NameSet()
	for _, reserved := range []string{SentinelEnd, SentinelError} {
		if _, ok := schema[reserved]; ok {
			return &ConfigError{Workflow: cfg.ID, Message: fmt.Sprintf("reserved name %s may not be redefined", reserved)}
		}
	}
	seen := map[string]bool{}
	for i := range cfg.Nodes {
		d := &cfg.Nodes[i]
		if _, ok := schema[d.Name]; !ok {
			return &ConfigError{Workflow: cfg.ID, Node: d.Name, Message: "node name is not in the schema"}
		}
		if seen[d.Name] {
			return &ConfigError{Workflow: cfg.ID, Node: d.Name, Message: "duplicate node name"}
		}
		seen[d.Name] = true
		if lit := strings.TrimSpace(d.ThenLiteral); lit != "" && lit != SentinelEnd && lit != SentinelError {
			if _, ok := schema[lit]; !ok {
				return &ConfigError{Workflow: cfg.ID, Node: d.Name, Message: fmt.Sprintf("literal transition to unknown node %q", lit)}
			}
		}
	}
	if _, ok := schema[cfg.Entry()]; !ok {
		return &ConfigError{Workflow: cfg.ID, Message: fmt.Sprintf("entry node %q is not in the schema", cfg.Entry())}
	}
	return nil
}

func validateSemantic(cfg *Config) ([]Diagnostic, error) {
	defined := map[string]bool{}
	for i := range cfg.Nodes {
		defined[cfg.Nodes[i].Name] = true
	}
	for _, name := range cfg.SchemaNames {
		if !defined[name] {
			return nil, &ConfigError{Workflow: cfg.ID, Message: fmt.Sprintf("schema name %q has no node definition", name)}
		}
	}

	// Reachability is only decidable when every transition is literal. A
	// single dynamic transition makes targets statically unknown, so the
	// check is suppressed entirely rather than reporting false positives.
	for i := range cfg.Nodes {
		if strings.TrimSpace(cfg.Nodes[i].ThenLiteral) == "" {
			return nil, nil
		}
	}

	reachable := map[string]bool{cfg.Entry(): true}
	frontier := []string{cfg.Entry()}
	byName := map[string]*Definition{}
	for i := range cfg.Nodes {
		byName[cfg.Nodes[i].Name] = &cfg.Nodes[i]
	}
	for len(frontier) > 0 {
		cur := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		d := byName[cur]
		if d == nil {
			continue
		}
		next := strings.TrimSpace(d.ThenLiteral)
		if next == "" || next == SentinelEnd || next == SentinelError || reachable[next] {
			continue
		}
		reachable[next] = true
		frontier = append(frontier, next)
	}

	var diags []Diagnostic
	for i := range cfg.Nodes {
		if !reachable[cfg.Nodes[i].Name] {
			diags = append(diags, Diagnostic{
				Rule:    "unreachable_node",
				Node:    cfg.Nodes[i].Name,
				Message: fmt.Sprintf("node %q is not reachable from entry %q", cfg.Nodes[i].Name, cfg.Entry()),
			})
		}
	}
	return diags, nil
}
