// Package store persists workflow run state as one JSON document per run.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/foundryhq/foundry/internal/workflow"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeID maps an arbitrary workflow id to a filesystem-safe name by
// stripping every rune outside [A-Za-z0-9_-]. The mapping is idempotent.
func SanitizeID(id string) string {
	s := unsafeIDChars.ReplaceAllString(id, "")
	if s == "" {
		s = "_"
	}
	return s
}

// FileStore keeps one <sanitized-id>.json snapshot per workflow under a root
// directory. Saves are atomic: write to a temp file, then rename over the
// destination, so readers never observe a torn document.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.root, SanitizeID(id)+".json")
}

// Save writes the state snapshot for id.
func (s *FileStore) Save(id string, st *workflow.State) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dst := s.path(id)
	tmp, err := os.CreateTemp(s.root, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Load returns the saved state for id. A missing or undecodable snapshot
// reports found=false rather than failing the run; a corrupt file means the
// run restarts from the entry node.
func (s *FileStore) Load(id string) (*workflow.State, bool, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var st workflow.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false, nil
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}
	return &st, true, nil
}

// Delete removes the snapshot for id. Missing snapshots are not an error.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the sanitized ids of all stored snapshots, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
