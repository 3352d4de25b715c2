package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

const (
	defaultCommandTimeout = 300 * time.Second
	defaultSlashTimeout   = 600 * time.Second
)

// shellMetaChars force interpretation via `sh -c`. A bare & is not in the
// set; only the && conjunction counts. Anything else is tokenized directly,
// bypassing the shell.
const shellMetaChars = "|><;`$()"

func needsShell(command string) bool {
	return strings.ContainsAny(command, shellMetaChars) || strings.Contains(command, "&&")
}

// splitCommand tokenizes a command string on whitespace, honoring single and
// double quotes. No backslash escapes: quoting is the only grouping device.
func splitCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		started bool
	)
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t' || r == '\n':
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced %c quote in command", quote)
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}

// commandSpec is a fully resolved invocation.
type commandSpec struct {
	Argv    []string // when set, bypasses the shell
	Command string
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
}

// commandOutcome is the result record written into context.
type commandOutcome struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
	Err      error
}

func (o commandOutcome) record() map[string]any {
	rec := map[string]any{
		"success":  o.Success,
		"output":   o.Stdout,
		"stderr":   o.Stderr,
		"exitCode": o.ExitCode,
		"duration": o.Duration.String(),
	}
	if o.TimedOut {
		rec["timedOut"] = true
	}
	if o.Err != nil {
		rec["error"] = o.Err.Error()
	}
	return rec
}

// runCommand executes the spec, killing the child on timeout or caller
// cancellation. Output is trimmed.
func runCommand(ctx context.Context, nodeName string, spec commandSpec) commandOutcome {
	timeout := durationOr(spec.Timeout, defaultCommandTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := spec.Argv
	if len(argv) == 0 {
		if needsShell(spec.Command) {
			argv = []string{"sh", "-c", spec.Command}
		} else {
			parts, err := splitCommand(spec.Command)
			if err != nil {
				return commandOutcome{ExitCode: -1, Err: err}
			}
			argv = parts
		}
	}
	if len(argv) == 0 {
		return commandOutcome{ExitCode: -1, Err: errors.New("empty command")}
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = spec.Cwd
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := commandOutcome{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if err == nil {
		out.Success = true
		return out
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		out.Err = &engine.TimeoutError{Node: nodeName, After: timeout}
		return out
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	} else {
		out.ExitCode = -1
	}
	out.Err = err
	return out
}

func newCommandRuntime(def workflow.Definition) engine.Runtime {
	cfg := def.Command
	key := keyOr(cfg.ResultKey, KeyCommandResult)
	throw := boolOr(cfg.ThrowOnError, true)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		cwd := cfg.Cwd
		if cwd == "" {
			cwd = st.GetString(KeyWorkDir, "")
		}
		outcome := runCommand(ctx, def.Name, commandSpec{
			Command: workflow.Interpolate(cfg.Command, st.Context),
			Cwd:     cwd,
			Env:     cfg.Env,
			Timeout: cfg.Timeout,
		})
		delta := resultDelta(key, outcome.record())
		if !outcome.Success && throw {
			return delta, outcome.record(), commandFailure(outcome)
		}
		return delta, outcome.record(), nil
	}}
}

func newDynamicCommandRuntime(def workflow.Definition) engine.Runtime {
	cfg := def.DynamicCommand
	key := keyOr(cfg.ResultKey, KeyDynamicCommandResult)
	throw := boolOr(cfg.ThrowOnError, true)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		spec := commandSpec{Timeout: cfg.Timeout}
		if cfg.Argv != nil {
			spec.Argv = cfg.Argv(st)
		} else {
			spec.Command = cfg.Command(st)
		}
		if cfg.Cwd != nil {
			spec.Cwd = cfg.Cwd(st)
		}
		if spec.Cwd == "" {
			spec.Cwd = st.GetString(KeyWorkDir, "")
		}
		if cfg.Env != nil {
			spec.Env = cfg.Env(st)
		}
		outcome := runCommand(ctx, def.Name, spec)
		delta := resultDelta(key, outcome.record())
		if !outcome.Success && throw {
			return delta, outcome.record(), commandFailure(outcome)
		}
		return delta, outcome.record(), nil
	}}
}

func commandFailure(o commandOutcome) error {
	if o.Err != nil {
		return o.Err
	}
	return fmt.Errorf("command exited %d: %s", o.ExitCode, firstLine(o.Stderr))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
