package workflow

import (
	"strings"
	"time"
)

// Sentinel transition targets. They are reserved: schemas may not define
// nodes with these names, but any transition may return them.
const (
	SentinelEnd   = "END"
	SentinelError = "ERROR"
)

// ReservedKeyPrefix marks engine-managed context keys. Nodes must not write
// keys with this prefix; the engine drops them from returned deltas.
const ReservedKeyPrefix = "__"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Message is one conversation record. The engine treats the history as an
// opaque ordered sequence; nodes may append to it.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// State is the persisted record of a single run.
type State struct {
	CurrentNode         string         `json:"current_node"`
	Status              Status         `json:"status"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ConversationHistory []Message      `json:"conversation_history"`
	Context             map[string]any `json:"context"`
}

// NewState returns a pending run positioned at firstNode. The engine promotes
// it to running when it takes the run up.
func NewState(firstNode string, initialContext map[string]any) *State {
	ctx := map[string]any{}
	for k, v := range initialContext {
		ctx[k] = v
	}
	return &State{
		CurrentNode: firstNode,
		Status:      StatusPending,
		UpdatedAt:   time.Now().UTC(),
		Context:     ctx,
	}
}

// Terminal reports whether the run is finished: the current node is a
// sentinel or the status is completed/failed.
func (s *State) Terminal() bool {
	if s == nil {
		return true
	}
	if s.CurrentNode == SentinelEnd || s.CurrentNode == SentinelError {
		return true
	}
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Get returns a context value.
func (s *State) Get(key string) (any, bool) {
	if s == nil || s.Context == nil {
		return nil, false
	}
	v, ok := s.Context[key]
	return v, ok
}

// GetString returns a context value as a string, or def when absent or not a string.
func (s *State) GetString(key, def string) string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// GetBool returns a context value as a bool, or def when absent or not a bool.
func (s *State) GetBool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetInt returns a context value as an int. JSON round-trips land numbers as
// float64, so both are accepted.
func (s *State) GetInt(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// Delta is a shallow-merge patch returned by a node execute. Context keys
// overwrite existing keys; Messages are appended to the conversation history.
type Delta struct {
	Context  map[string]any
	Messages []Message
}

// Apply merges a delta into the state and refreshes UpdatedAt. Reserved keys
// are dropped: nodes never write engine-managed context. UpdatedAt is kept
// monotonically non-decreasing even against clock slew.
func (s *State) Apply(d Delta) {
	if s.Context == nil {
		s.Context = map[string]any{}
	}
	for k, v := range d.Context {
		if strings.HasPrefix(k, ReservedKeyPrefix) {
			continue
		}
		s.Context[k] = v
	}
	s.ConversationHistory = append(s.ConversationHistory, d.Messages...)
	s.Touch()
}

// Touch refreshes UpdatedAt without going backwards.
func (s *State) Touch() {
	now := time.Now().UTC()
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// SetReserved writes an engine-managed context key. The prefix is added when missing.
func (s *State) SetReserved(key string, v any) {
	if s.Context == nil {
		s.Context = map[string]any{}
	}
	if !strings.HasPrefix(key, ReservedKeyPrefix) {
		key = ReservedKeyPrefix + key
	}
	s.Context[key] = v
}
