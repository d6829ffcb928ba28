package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("server overloaded")
	err := NewTransientError(inner, 503)
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
	if err.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", err.StatusCode)
	}
}

func TestIsTransient_WrappedTransient(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("search stage: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_PlainError(t *testing.T) {
	if IsTransient(errors.New("invalid request body")) {
		t.Error("plain error should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
}

func TestIsTransient_NetworkPatterns(t *testing.T) {
	cases := []string{
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"dial tcp: i/o timeout",
		"lookup api.example.com: no such host",
	}
	for _, msg := range cases {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to not be transient", code)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		body string
		want time.Duration
	}{
		{"rate limit exceeded, retry after 12s", 12 * time.Second},
		{"Retry After 3 s", 3 * time.Second},
		{`{"error":"quota hit, retry after 45s"}`, 45 * time.Second},
		{"rate limit exceeded", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.body); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestRetryExhaustedError(t *testing.T) {
	cause := NewTransientError(errors.New("too many requests"), 429)
	err := &RetryExhaustedError{Attempts: 4, Err: cause}

	var te *TransientError
	if !errors.As(err, &te) {
		t.Error("expected the cause to remain reachable through the chain")
	}
	if err.Error() == "" {
		t.Error("expected a descriptive message")
	}
}
