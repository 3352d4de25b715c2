package issueproc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTreeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"cmd/app", "internal/core", "node_modules/left-pad", ".git/objects"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, file := range []string{"go.mod", "cmd/app/main.go", "internal/core/core.go", "node_modules/left-pad/index.js", ".git/objects/x"} {
		if err := os.WriteFile(filepath.Join(root, file), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestBuildTreeExcludesDefaults(t *testing.T) {
	out, err := BuildTree(writeTreeFixture(t), nil)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	for _, want := range []string{"go.mod", "main.go", "core.go", "cmd/", "internal/"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	for _, banned := range []string{"node_modules", "left-pad", ".git"} {
		if strings.Contains(out, banned) {
			t.Errorf("excluded entry %q leaked into:\n%s", banned, out)
		}
	}
}

func TestBuildTreeCustomExcludes(t *testing.T) {
	out, err := BuildTree(writeTreeFixture(t), []string{"internal/**"})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if strings.Contains(out, "core.go") {
		t.Errorf("custom exclude ignored:\n%s", out)
	}
	if !strings.Contains(out, "node_modules") {
		t.Error("custom excludes should replace the defaults entirely")
	}
}

func TestBuildTreeIndentation(t *testing.T) {
	out, err := BuildTree(writeTreeFixture(t), nil)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if !strings.Contains(out, "\n    main.go") {
		t.Errorf("nested file not indented:\n%s", out)
	}
}
