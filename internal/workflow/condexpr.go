package workflow

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	celCacheMu sync.RWMutex
	celCache   = map[string]cel.Program{}
)

func transitionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("ctx", cel.DynType),
			cel.Variable("node", cel.StringType),
			cel.Variable("status", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

// CondExpr compiles a CEL expression into a transition. The expression sees
// `ctx` (the context map), `node` (the current node name), and `status`, and
// must evaluate to the successor name, e.g.
//
//	ctx.testsPassed ? 'NEXT_TASK' : 'INCREMENT_RETRY'
//
// Compilation errors surface at load; a non-string evaluation result surfaces
// as a TypeMismatchError at resolve time.
func CondExpr(expr string) (Transition, error) {
	env, err := transitionEnv()
	if err != nil {
		return nil, err
	}

	celCacheMu.RLock()
	prg, ok := celCache[expr]
	celCacheMu.RUnlock()
	if !ok {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile transition %q: %w", expr, issues.Err())
		}
		prg, err = env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program transition %q: %w", expr, err)
		}
		celCacheMu.Lock()
		celCache[expr] = prg
		celCacheMu.Unlock()
	}

	return func(s *State) (string, error) {
		ctx := map[string]any{}
		if s != nil && s.Context != nil {
			ctx = s.Context
		}
		node, status := "", ""
		if s != nil {
			node = s.CurrentNode
			status = string(s.Status)
		}
		out, _, err := prg.Eval(map[string]any{
			"ctx":    ctx,
			"node":   node,
			"status": status,
		})
		if err != nil {
			return "", fmt.Errorf("evaluate transition %q: %w", expr, err)
		}
		name, ok := out.Value().(string)
		if !ok {
			return "", &TypeMismatchError{From: node, Got: out.Value()}
		}
		return name, nil
	}, nil
}
