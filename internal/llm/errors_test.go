package llm

import (
	"testing"
	"time"
)

func TestErrorFromHTTPStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		wantType  string
		retryable bool
	}{
		{"bad request", 400, "malformed", "*llm.InvalidRequestError", false},
		{"auth", 401, "bad key", "*llm.AuthenticationError", false},
		{"forbidden", 403, "", "*llm.AccessDeniedError", false},
		{"not found", 404, "", "*llm.NotFoundError", false},
		{"timeout", 408, "", "*llm.RequestTimeoutError", true},
		{"too large", 413, "", "*llm.ContextLengthError", false},
		{"rate limit", 429, "", "*llm.RateLimitError", true},
		{"server", 500, "", "*llm.ServerError", true},
		{"bad gateway", 502, "", "*llm.ServerError", true},
		{"teapot", 418, "", "*llm.UnknownHTTPError", true},
		{"content filter hint", 400, "blocked by content filter", "*llm.ContentFilterError", false},
		{"context length hint", 422, "too many tokens", "*llm.ContextLengthError", false},
		{"quota hint", 400, "monthly quota exhausted", "*llm.QuotaExceededError", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrorFromHTTPStatus("prov", tt.status, tt.message, nil)
			le, ok := err.(Error)
			if !ok {
				t.Fatalf("not an llm.Error: %T", err)
			}
			if got := typeName(err); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
			if le.Retryable() != tt.retryable {
				t.Errorf("retryable = %v, want %v", le.Retryable(), tt.retryable)
			}
			if le.Provider() != "prov" {
				t.Errorf("provider = %q", le.Provider())
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *InvalidRequestError:
		return "*llm.InvalidRequestError"
	case *AuthenticationError:
		return "*llm.AuthenticationError"
	case *AccessDeniedError:
		return "*llm.AccessDeniedError"
	case *NotFoundError:
		return "*llm.NotFoundError"
	case *RequestTimeoutError:
		return "*llm.RequestTimeoutError"
	case *ContextLengthError:
		return "*llm.ContextLengthError"
	case *ContentFilterError:
		return "*llm.ContentFilterError"
	case *QuotaExceededError:
		return "*llm.QuotaExceededError"
	case *RateLimitError:
		return "*llm.RateLimitError"
	case *ServerError:
		return "*llm.ServerError"
	case *UnknownHTTPError:
		return "*llm.UnknownHTTPError"
	default:
		return "unknown"
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	if d := ParseRetryAfter("30", now); d == nil || *d != 30*time.Second {
		t.Errorf("seconds form = %v", d)
	}
	httpDate := now.Add(90 * time.Second).Format(time.RFC1123)
	if d := ParseRetryAfter(httpDate, now); d == nil || *d != 90*time.Second {
		t.Errorf("http-date form = %v", d)
	}
	if d := ParseRetryAfter("", now); d != nil {
		t.Errorf("empty = %v", d)
	}
	if d := ParseRetryAfter("garbage", now); d != nil {
		t.Errorf("garbage = %v", d)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrorFromHTTPStatus("p", 429, "", nil)) {
		t.Error("429 should be retryable")
	}
	if IsRetryable(ErrorFromHTTPStatus("p", 401, "", nil)) {
		t.Error("401 should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
