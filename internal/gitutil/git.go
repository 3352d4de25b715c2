// Package gitutil wraps the git CLI for the checkout node.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(redactArgs(e.Args), " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// redactArgs masks embedded credentials in clone URLs so tokens never land in
// logs or error chains.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if u, err := url.Parse(a); err == nil && u.User != nil {
			u.User = url.UserPassword("x-access-token", "***")
			out[i] = u.String()
			continue
		}
		out[i] = a
	}
	return out
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	// Background auto-maintenance spawns long-lived helper processes that
	// outlive the node's timeout; keep it off.
	base := []string{
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	if dir != "" {
		base = append([]string{"-C", dir}, base...)
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(ctx context.Context, dir string) bool {
	out, _, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func HeadSHA(ctx context.Context, dir string) (string, error) {
	out, _, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CloneURL builds an HTTPS clone URL, embedding the access token when given.
func CloneURL(owner, repo, token string) string {
	if token == "" {
		return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo)
}

// Clone clones into dir. depth <= 0 means a full clone.
func Clone(ctx context.Context, cloneURL, dir string, depth int) error {
	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, cloneURL, dir)
	_, _, err := runGit(ctx, "", args...)
	return err
}

func Checkout(ctx context.Context, dir, ref string) error {
	_, _, err := runGit(ctx, dir, "checkout", ref)
	return err
}

// Fetch fetches a single ref, deepening a shallow clone when needed before a
// checkout of a ref outside the shallow history.
func Fetch(ctx context.Context, dir, ref string) error {
	_, _, err := runGit(ctx, dir, "fetch", "--depth", "1", "origin", ref)
	return err
}
