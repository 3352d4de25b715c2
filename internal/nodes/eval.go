package nodes

import (
	"context"
	"sort"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

// newEvalRuntime wraps a pure transform. The transform sees the state and
// returns a partial context; it must not perform I/O or mutate its input.
func newEvalRuntime(def workflow.Definition) engine.Runtime {
	cfg := def.Eval
	key := keyOr(cfg.ResultKey, KeyEvalResult)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		start := time.Now()
		partial, err := cfg.Transform(st)
		dur := time.Since(start)
		if err != nil {
			rec := map[string]any{"success": false, "error": err.Error(), "duration": dur.String()}
			return resultDelta(key, rec), rec, err
		}

		keys := make([]string, 0, len(partial))
		for k := range partial {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec := map[string]any{
			"success":     true,
			"updatedKeys": keys,
			"duration":    dur.String(),
		}

		delta := workflow.Delta{Context: map[string]any{key: rec}}
		for k, v := range partial {
			delta.Context[k] = v
		}
		return delta, rec, nil
	}}
}
