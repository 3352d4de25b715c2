package workflow

import (
	"errors"
	"testing"
)

func TestCondExprRoutesOnContext(t *testing.T) {
	tr, err := CondExpr(`ctx.testsPassed ? 'NEXT_TASK' : 'INCREMENT_RETRY'`)
	if err != nil {
		t.Fatalf("CondExpr: %v", err)
	}

	st := NewState("TEST", map[string]any{"testsPassed": true})
	if got, _ := tr(st); got != "NEXT_TASK" {
		t.Errorf("true branch = %q", got)
	}
	st.Context["testsPassed"] = false
	if got, _ := tr(st); got != "INCREMENT_RETRY" {
		t.Errorf("false branch = %q", got)
	}
}

func TestCondExprSeesNodeAndStatus(t *testing.T) {
	tr, err := CondExpr(`node == 'A' && status == 'running' ? 'B' : 'ERROR'`)
	if err != nil {
		t.Fatalf("CondExpr: %v", err)
	}
	if got, _ := tr(NewState("A", nil)); got != "B" {
		t.Errorf("next = %q, want B", got)
	}
}

func TestCondExprCompileErrorAtLoad(t *testing.T) {
	if _, err := CondExpr(`ctx.x ? 'A' :`); err == nil {
		t.Fatal("want compile error for malformed expression")
	}
}

func TestCondExprNonStringResult(t *testing.T) {
	tr, err := CondExpr(`1 + 2`)
	if err != nil {
		t.Fatalf("CondExpr: %v", err)
	}
	_, err = tr(NewState("A", nil))
	var tme *TypeMismatchError
	if !errors.As(err, &tme) {
		t.Fatalf("want TypeMismatchError, got %v", err)
	}
}
