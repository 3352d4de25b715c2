package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Emit writes the matrix artifact. OutputFile gets the indented JSON; when
// running under CI (GITHUB_ACTIONS=true), the compact form is appended to
// the GITHUB_OUTPUT file as matrix=<json>.
func Emit(m Matrix, cfg Config, getenv func(string) string) error {
	if m.Include == nil {
		m.Include = []MatrixEntry{}
	}
	pretty, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if cfg.OutputFile != "" {
		if err := os.WriteFile(cfg.OutputFile, append(pretty, '\n'), 0o644); err != nil {
			return fmt.Errorf("write matrix artifact: %w", err)
		}
	}

	if !strings.EqualFold(getenv("GITHUB_ACTIONS"), "true") {
		return nil
	}
	outPath := getenv("GITHUB_OUTPUT")
	if outPath == "" {
		return nil
	}
	compact, err := json.Marshal(m)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(outPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "matrix=%s\n", compact); err != nil {
		return err
	}
	return nil
}
