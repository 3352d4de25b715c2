package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foundryhq/foundry/internal/engine"
	"github.com/foundryhq/foundry/internal/workflow"
)

const defaultHTTPTimeout = 30 * time.Second

func newHTTPRuntime(def workflow.Definition) engine.Runtime {
	cfg := def.HTTP
	key := keyOr(cfg.ResultKey, KeyHTTPResult)
	client := &http.Client{}
	return &runtime{def: def, exec: func(ctx context.Context, st *workflow.State, rc *engine.RunContext) (workflow.Delta, map[string]any, error) {
		timeout := durationOr(cfg.Timeout, defaultHTTPTimeout)
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		target := cfg.URL
		if cfg.URLFn != nil {
			target = cfg.URLFn(st)
		}
		target = workflow.Interpolate(target, st.Context)

		u, err := url.Parse(target)
		if err != nil {
			rec := map[string]any{"success": false, "error": err.Error()}
			return resultDelta(key, rec), rec, err
		}
		if len(cfg.Query) > 0 {
			q := u.Query()
			for k, v := range cfg.Query {
				q.Set(k, workflow.Interpolate(v, st.Context))
			}
			u.RawQuery = q.Encode()
		}

		method := strings.ToUpper(cfg.Method)
		if method == "" {
			method = http.MethodGet
		}

		var bodyReader io.Reader
		sendJSON := false
		body := cfg.Body
		if cfg.BodyFn != nil {
			body = cfg.BodyFn(st)
		}
		if body != nil {
			switch b := body.(type) {
			case string:
				bodyReader = strings.NewReader(workflow.Interpolate(b, st.Context))
			case []byte:
				bodyReader = bytes.NewReader(b)
			default:
				raw, merr := json.Marshal(b)
				if merr != nil {
					rec := map[string]any{"success": false, "error": merr.Error()}
					return resultDelta(key, rec), rec, merr
				}
				bodyReader = bytes.NewReader(raw)
				sendJSON = true
			}
		}

		req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
		if err != nil {
			rec := map[string]any{"success": false, "error": err.Error()}
			return resultDelta(key, rec), rec, err
		}
		req.Header.Set("Accept", "application/json")
		if sendJSON {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range cfg.Headers {
			req.Header.Set(k, workflow.Interpolate(v, st.Context))
		}

		start := time.Now()
		resp, err := client.Do(req)
		dur := time.Since(start)
		if err != nil {
			if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				err = &engine.TimeoutError{Node: def.Name, After: timeout}
			}
			rec := map[string]any{"success": false, "error": err.Error(), "duration": dur.String()}
			return resultDelta(key, rec), rec, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			rec := map[string]any{"success": false, "error": err.Error(), "duration": dur.String()}
			return resultDelta(key, rec), rec, err
		}

		headers := map[string]string{}
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}

		// Content-type sniffing: JSON parses into data, everything else is
		// kept as text.
		var data any = string(raw)
		ct := resp.Header.Get("Content-Type")
		if strings.Contains(ct, "json") || looksLikeJSON(raw) {
			var parsed any
			if jerr := json.Unmarshal(raw, &parsed); jerr == nil {
				data = parsed
			}
		}

		ok := resp.StatusCode >= 200 && resp.StatusCode < 300
		rec := map[string]any{
			"success":    ok,
			"status":     resp.StatusCode,
			"statusText": resp.Status,
			"headers":    headers,
			"data":       data,
			"duration":   dur.String(),
		}
		if !ok {
			rec["error"] = resp.Status
		}
		return resultDelta(key, rec), rec, nil
	}}
}

func looksLikeJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && (t[0] == '{' || t[0] == '[')
}
