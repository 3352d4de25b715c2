package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

func execHTTP(t *testing.T, def workflow.Definition, st *workflow.State) (workflow.Delta, error) {
	t.Helper()
	rt := newHTTPRuntime(def)
	delta, _, err := rt.Execute(context.Background(), st, &engine.RunContext{})
	return delta, err
}

func TestHTTPNodeJSONRoundTrip(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"issue": 42})
	}))
	defer srv.Close()

	def := workflow.Definition{
		Name: "FETCH", Kind: workflow.KindHTTP, ThenLiteral: workflow.SentinelEnd,
		HTTP: &workflow.HTTPConfig{
			URL:   srv.URL,
			Query: map[string]string{"label": "queue", "page": "1"},
		},
	}
	delta, err := execHTTP(t, def, workflow.NewState("FETCH", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rec := delta.Context[KeyHTTPResult].(map[string]any)
	if rec["success"] != true || rec["status"] != 200 {
		t.Errorf("record = %v", rec)
	}
	data := rec["data"].(map[string]any)
	if data["issue"] != float64(42) {
		t.Errorf("data = %v", data)
	}
	if gotQuery != "label=queue&page=1" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestHTTPNodePostsJSONBody(t *testing.T) {
	var gotCT string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	def := workflow.Definition{
		Name: "POST", Kind: workflow.KindHTTP, ThenLiteral: workflow.SentinelEnd,
		HTTP: &workflow.HTTPConfig{
			Method: "post",
			URL:    srv.URL,
			BodyFn: func(st *workflow.State) any {
				return map[string]any{"issue": st.GetInt("issueNumber", 0)}
			},
		},
	}
	delta, err := execHTTP(t, def, workflow.NewState("POST", map[string]any{"issueNumber": 7}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotCT != "application/json" || gotBody["issue"] != float64(7) {
		t.Errorf("ct=%q body=%v", gotCT, gotBody)
	}
	rec := delta.Context[KeyHTTPResult].(map[string]any)
	if rec["status"] != 201 {
		t.Errorf("status = %v", rec["status"])
	}
}

func TestHTTPNodeNonOKRecordedNotThrown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	def := workflow.Definition{
		Name: "MISS", Kind: workflow.KindHTTP, ThenLiteral: workflow.SentinelEnd,
		HTTP: &workflow.HTTPConfig{URL: srv.URL},
	}
	delta, err := execHTTP(t, def, workflow.NewState("MISS", nil))
	if err != nil {
		t.Fatalf("non-2xx should be recorded, not thrown: %v", err)
	}
	rec := delta.Context[KeyHTTPResult].(map[string]any)
	if rec["success"] != false || rec["status"] != 404 {
		t.Errorf("record = %v", rec)
	}
}

func TestHTTPNodeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	def := workflow.Definition{
		Name: "SLOW", Kind: workflow.KindHTTP, ThenLiteral: workflow.SentinelEnd,
		HTTP: &workflow.HTTPConfig{URL: srv.URL, Timeout: 50 * time.Millisecond},
	}
	_, err := execHTTP(t, def, workflow.NewState("SLOW", nil))
	if _, ok := err.(*engine.TimeoutError); !ok {
		t.Fatalf("want TimeoutError, got %T: %v", err, err)
	}
}

func TestHTTPNodeInterpolatesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	def := workflow.Definition{
		Name: "GET", Kind: workflow.KindHTTP, ThenLiteral: workflow.SentinelEnd,
		HTTP: &workflow.HTTPConfig{URL: srv.URL + "/issues/{{issueNumber}}"},
	}
	delta, err := execHTTP(t, def, workflow.NewState("GET", map[string]any{"issueNumber": 42}))
	if err != nil {
		t.Fatal(err)
	}
	rec := delta.Context[KeyHTTPResult].(map[string]any)
	if rec["data"] != "ok" {
		t.Errorf("text body not preserved: %v", rec["data"])
	}
}
