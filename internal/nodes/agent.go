package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

func agentRecord(res AgentResult, dur time.Duration) map[string]any {
	rec := map[string]any{
		"success":  res.Success,
		"output":   res.Output,
		"duration": dur.String(),
	}
	if res.Error != "" {
		rec["error"] = res.Error
	}
	if res.Thinking != "" {
		rec["thinking"] = res.Thinking
	}
	if res.Usage.InputTokens > 0 || res.Usage.OutputTokens > 0 {
		rec["usage"] = map[string]any{
			"inputTokens":  res.Usage.InputTokens,
			"outputTokens": res.Usage.OutputTokens,
		}
	}
	if len(res.FilesAffected) > 0 {
		rec["filesAffected"] = res.FilesAffected
	}
	return rec
}

func newAgentRuntime(def workflow.Definition, deps Deps) engine.Runtime {
	cfg := def.Agent
	key := keyOr(cfg.ResultKey, KeyAgentResult)
	throw := boolOr(cfg.ThrowOnError, true)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		req := AgentRequest{
			Role:         cfg.Role,
			SystemPrompt: workflow.Interpolate(cfg.SystemPrompt, st.Context),
			Prompt:       workflow.Interpolate(cfg.Prompt, st.Context),
			Capabilities: cfg.Capabilities,
			Model:        cfg.Model,
			MaxTurns:     cfg.MaxTurns,
			Temperature:  cfg.Temperature,
			WorkDir:      st.GetString(KeyWorkDir, ""),
		}
		return runAgent(ctx, deps.Agent, req, key, throw)
	}}
}

func newDynamicAgentRuntime(def workflow.Definition, deps Deps) engine.Runtime {
	cfg := def.DynamicAgent
	key := keyOr(cfg.ResultKey, KeyAgentResult)
	throw := boolOr(cfg.ThrowOnError, true)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		req := AgentRequest{
			Prompt:  cfg.Prompt(st),
			WorkDir: st.GetString(KeyWorkDir, ""),
		}
		if cfg.Model != nil {
			req.Model = cfg.Model(st)
		}
		if cfg.System != nil {
			req.SystemPrompt = cfg.System(st)
		}
		if cfg.Capabilities != nil {
			req.Capabilities = cfg.Capabilities(st)
		}
		if cfg.MaxTurns != nil {
			req.MaxTurns = cfg.MaxTurns(st)
		}
		if cfg.Temperature != nil {
			req.Temperature = cfg.Temperature(st)
		}
		return runAgent(ctx, deps.Agent, req, key, throw)
	}}
}

func runAgent(ctx context.Context, provider AgentProvider, req AgentRequest, key string, throw bool) (workflow.Delta, map[string]any, error) {
	start := time.Now()
	res, err := provider.Run(ctx, req)
	dur := time.Since(start)
	if err != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	rec := agentRecord(res, dur)
	delta := workflow.Delta{
		Context: map[string]any{key: rec},
	}
	if res.Success && res.Output != "" {
		delta.Messages = []workflow.Message{{
			Role:      "assistant",
			Content:   res.Output,
			Timestamp: time.Now().UTC(),
		}}
	}
	if !res.Success && throw {
		if err == nil {
			err = errors.New(res.Error)
		}
		return delta, rec, err
	}
	return delta, rec, nil
}

func newSlashRuntime(def workflow.Definition, deps Deps) engine.Runtime {
	cfg := def.Slash
	key := keyOr(cfg.ResultKey, KeySlashCommandResult)
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		args := workflow.Interpolate(cfg.Args, st.Context)
		start := time.Now()
		res, err := deps.Slash.RunSlash(ctx, cfg.CommandName, args, durationOr(cfg.Timeout, defaultSlashTimeout))
		dur := time.Since(start)
		if err != nil {
			res.Success = false
			if res.Error == "" {
				res.Error = err.Error()
			}
		}
		rec := agentRecord(res, dur)
		delta := resultDelta(key, rec)
		if !res.Success {
			if err == nil {
				err = errors.New(res.Error)
			}
			return delta, rec, err
		}
		return delta, rec, nil
	}}
}
