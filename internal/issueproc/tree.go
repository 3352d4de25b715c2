package issueproc

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultTreeExcludes keeps vendored and generated trees out of the agent's
// exploration prompt.
var defaultTreeExcludes = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"**/*.lock",
	"**/__pycache__/**",
}

const maxTreeEntries = 500

// BuildTree renders an indented directory listing of root, skipping paths
// matching any exclude glob. Entries are sorted; output is capped so a huge
// checkout cannot blow up a prompt.
func BuildTree(root string, excludes []string) (string, error) {
	if len(excludes) == 0 {
		excludes = defaultTreeExcludes
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, pat := range excludes {
			ok, matchErr := doublestar.Match(pat, rel)
			if matchErr != nil {
				return fmt.Errorf("exclude pattern %q: %w", pat, matchErr)
			}
			// A directory matching the pattern's prefix prunes the subtree.
			if !ok && d.IsDir() {
				if base, found := strings.CutSuffix(pat, "/**"); found {
					ok, _ = doublestar.Match(base, rel)
				}
			}
			if ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			rel += "/"
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	truncated := false
	if len(paths) > maxTreeEntries {
		paths = paths[:maxTreeEntries]
		truncated = true
	}
	var b strings.Builder
	for _, p := range paths {
		depth := strings.Count(strings.TrimSuffix(p, "/"), "/")
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(filepath.Base(strings.TrimSuffix(p, "/")))
		if strings.HasSuffix(p, "/") {
			b.WriteString("/")
		}
		b.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&b, "... (%d entries shown)\n", maxTreeEntries)
	}
	return b.String(), nil
}
