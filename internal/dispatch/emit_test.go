package dispatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmitWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "matrix.json")
	m := Matrix{Include: []MatrixEntry{{
		IssueNumber: 7, Title: "x", Priority: "high", PriorityScore: 1,
		Repository: "acme/widgets", URL: "https://example.test/7",
	}}}
	err := Emit(m, Config{OutputFile: out}, envFunc(nil))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var got Matrix
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Include) != 1 || got.Include[0].IssueNumber != 7 {
		t.Fatalf("artifact = %+v", got)
	}
}

func TestEmitEmptyMatrixIsArrayNotNull(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "matrix.json")
	if err := Emit(Matrix{}, Config{OutputFile: out}, envFunc(nil)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	data, _ := os.ReadFile(out)
	if strings.Contains(string(data), "null") {
		t.Fatalf("artifact contains null include: %s", data)
	}
}

func TestEmitAppendsGithubOutput(t *testing.T) {
	dir := t.TempDir()
	ghOut := filepath.Join(dir, "github_output")
	if err := os.WriteFile(ghOut, []byte("existing=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := Matrix{Include: []MatrixEntry{{IssueNumber: 3, Title: "y", Priority: "none", PriorityScore: 4, Repository: "acme/widgets"}}}
	err := Emit(m, Config{}, envFunc(map[string]string{
		"GITHUB_ACTIONS": "true",
		"GITHUB_OUTPUT":  ghOut,
	}))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	data, _ := os.ReadFile(ghOut)
	text := string(data)
	if !strings.HasPrefix(text, "existing=1\n") {
		t.Errorf("prior output lost: %q", text)
	}
	if !strings.Contains(text, `matrix={"include":[{"issue_number":3`) {
		t.Errorf("missing compact matrix line: %q", text)
	}
}

func TestEmitSkipsGithubOutputOutsideCI(t *testing.T) {
	dir := t.TempDir()
	ghOut := filepath.Join(dir, "github_output")
	err := Emit(Matrix{}, Config{}, envFunc(map[string]string{
		"GITHUB_OUTPUT": ghOut,
	}))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, statErr := os.Stat(ghOut); !os.IsNotExist(statErr) {
		t.Error("GITHUB_OUTPUT written outside CI")
	}
}
