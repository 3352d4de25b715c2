package nodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/gitutil"
	"github.com/foundryhq/foundry/internal/workflow"
)

const defaultCloneTimeout = 120 * time.Second

// Context keys the checkout node reads when UseIssueContext is set.
const (
	KeyRepoOwner = "repoOwner"
	KeyRepoName  = "repoName"
)

func newCheckoutRuntime(def workflow.Definition, deps Deps) engine.Runtime {
	cfg := def.Checkout
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		owner, repo := cfg.Owner, cfg.Repo
		if cfg.UseIssueContext {
			owner = st.GetString(KeyRepoOwner, "")
			repo = st.GetString(KeyRepoName, "")
			if owner == "" || repo == "" {
				if pair := deps.getenv("GITHUB_REPOSITORY"); pair != "" {
					if o, r, ok := strings.Cut(pair, "/"); ok {
						owner, repo = o, r
					}
				}
			}
		}
		if owner == "" || repo == "" {
			err := errors.New("checkout: owner/repo unresolved")
			return workflow.Delta{}, nil, err
		}

		tokenEnv := cfg.TokenEnv
		if tokenEnv == "" {
			tokenEnv = "GITHUB_TOKEN"
		}
		token := deps.getenv(tokenEnv)

		workDir := cfg.WorkDir
		if workDir == "" {
			workDir = filepath.Join(os.TempDir(), "foundry-checkout", owner+"-"+repo)
		}

		timeout := durationOr(cfg.Timeout, defaultCloneTimeout)
		gitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		skip := boolOr(cfg.SkipIfExists, true)
		reused := false
		if skip && gitutil.IsRepo(gitCtx, workDir) {
			reused = true
		} else {
			if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
				return workflow.Delta{}, nil, err
			}
			depth := cfg.Depth
			if depth == 0 {
				depth = 1
			}
			if err := gitutil.Clone(gitCtx, gitutil.CloneURL(owner, repo, token), workDir, depth); err != nil {
				if errors.Is(gitCtx.Err(), context.DeadlineExceeded) {
					return workflow.Delta{}, nil, &engine.TimeoutError{Node: def.Name, After: timeout}
				}
				return workflow.Delta{}, nil, err
			}
			if cfg.Ref != "" {
				if err := gitutil.Checkout(gitCtx, workDir, cfg.Ref); err != nil {
					// Shallow clones miss refs outside the tip; deepen once.
					if ferr := gitutil.Fetch(gitCtx, workDir, cfg.Ref); ferr != nil {
						return workflow.Delta{}, nil, err
					}
					if err := gitutil.Checkout(gitCtx, workDir, cfg.Ref); err != nil {
						return workflow.Delta{}, nil, err
					}
				}
			}
		}

		sha, err := gitutil.HeadSHA(gitCtx, workDir)
		if err != nil {
			return workflow.Delta{}, nil, fmt.Errorf("checkout %s/%s: %w", owner, repo, err)
		}

		rec := map[string]any{
			"workDir": workDir,
			"owner":   owner,
			"repo":    repo,
			"ref":     cfg.Ref,
			"sha":     sha,
			"reused":  reused,
		}
		delta := workflow.Delta{Context: map[string]any{
			KeyCheckoutResult: rec,
			KeyWorkDir:        workDir,
		}}
		return delta, rec, nil
	}}
}
