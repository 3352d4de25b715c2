package nodes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/llm"
	"github.com/foundryhq/foundry/internal/workflow"
)

func newLLMRuntime(def workflow.Definition, deps Deps) engine.Runtime {
	cfg := def.LLM
	key := keyOr(cfg.ResultKey, KeyLLMResult)
	throw := boolOr(cfg.ThrowOnError, true)
	jsonOut := strings.EqualFold(cfg.OutputMode, "json")
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		req := llm.Request{
			Model:       cfg.Model,
			System:      workflow.Interpolate(cfg.SystemPrompt, st.Context),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			JSONOutput:  jsonOut,
			Messages: []llm.Message{
				llm.User(workflow.Interpolate(cfg.Prompt, st.Context)),
			},
		}
		start := time.Now()
		resp, err := deps.LLM.Complete(ctx, req)
		dur := time.Since(start)

		rec := map[string]any{
			"success":  err == nil,
			"duration": dur.String(),
		}
		if err != nil {
			rec["error"] = err.Error()
			delta := resultDelta(key, rec)
			if throw {
				return delta, rec, err
			}
			return delta, rec, nil
		}

		rec["rawOutput"] = resp.Message.Content
		if jsonOut {
			// JSON mode parses the body into a structured value; a provider
			// that returned prose keeps only rawOutput.
			var parsed any
			if jerr := json.Unmarshal([]byte(resp.Message.Content), &parsed); jerr == nil {
				rec["output"] = parsed
			}
		} else {
			rec["output"] = resp.Message.Content
		}
		if resp.Thinking != "" {
			rec["thinking"] = resp.Thinking
		}
		rec["usage"] = map[string]any{
			"inputTokens":  resp.Usage.InputTokens,
			"outputTokens": resp.Usage.OutputTokens,
		}

		delta := workflow.Delta{
			Context: map[string]any{key: rec},
			Messages: []workflow.Message{{
				Role:      "assistant",
				Content:   resp.Message.Content,
				Timestamp: time.Now().UTC(),
			}},
		}
		return delta, rec, nil
	}}
}
