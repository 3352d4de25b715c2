package gitutil

import (
	"errors"
	"strings"
	"testing"
)

func TestCloneURL(t *testing.T) {
	if got := CloneURL("acme", "widgets", ""); got != "https://github.com/acme/widgets.git" {
		t.Errorf("anonymous url = %q", got)
	}
	got := CloneURL("acme", "widgets", "ghp_secret")
	if !strings.Contains(got, "x-access-token:ghp_secret@github.com/acme/widgets.git") {
		t.Errorf("token url = %q", got)
	}
}

func TestCommandErrorRedactsToken(t *testing.T) {
	err := &CommandError{
		Args: []string{"clone", CloneURL("acme", "widgets", "ghp_secret"), "/tmp/x"},
		Err:  errors.New("exit status 128"),
	}
	msg := err.Error()
	if strings.Contains(msg, "ghp_secret") {
		t.Fatalf("token leaked into error message: %s", msg)
	}
	if !strings.Contains(msg, "***") {
		t.Errorf("no redaction marker in %q", msg)
	}
}

func TestCommandErrorIncludesStderr(t *testing.T) {
	err := &CommandError{
		Args:   []string{"checkout", "missing-ref"},
		Stderr: "error: pathspec 'missing-ref' did not match\n",
		Err:    errors.New("exit status 1"),
	}
	if !strings.Contains(err.Error(), "pathspec") {
		t.Errorf("stderr missing from %q", err.Error())
	}
}
