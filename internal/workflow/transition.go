package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// InvalidTransitionError reports a transition predicate that returned a name
// outside the schema and the terminal sentinels.
type InvalidTransitionError struct {
	From     string
	Returned string
	Valid    []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q: got %q (valid: %s, plus %s/%s)",
		e.From, e.Returned, strings.Join(e.Valid, ", "), SentinelEnd, SentinelError)
}

// TypeMismatchError reports a transition that produced a non-string value.
// Typed Go transitions cannot hit this; it surfaces from expression-compiled
// transitions loaded out of untyped config documents.
type TypeMismatchError struct {
	From string
	Got  any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("transition from %q returned non-string value %T", e.From, e.Got)
}

// ResolveNext runs a node's transition against the post-execution state and
// validates the result. Sentinels are always accepted, even when absent from
// the schema names.
func ResolveNext(from string, then Transition, st *State, names map[string]struct{}) (string, error) {
	if then == nil {
		return "", &InvalidTransitionError{From: from, Returned: "", Valid: sortedNames(names)}
	}
	raw, err := then(st)
	if err != nil {
		return "", err
	}
	next := strings.TrimSpace(raw)
	if next == SentinelEnd || next == SentinelError {
		return next, nil
	}
	if _, ok := names[next]; !ok {
		return "", &InvalidTransitionError{From: from, Returned: next, Valid: sortedNames(names)}
	}
	return next, nil
}

func sortedNames(names map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
