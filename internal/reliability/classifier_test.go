package reliability

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	final := []int{200, 400, 401, 403, 404, 422}
	for _, code := range final {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

type transientErr struct{}

func (transientErr) Error() string   { return "transient" }
func (transientErr) Retryable() bool { return true }

func TestRetryableUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("synthesize segment 2: %w", transientErr{})
	if !Retryable(wrapped) {
		t.Fatalf("Retryable(wrapped transient) = false, want true")
	}
	if Retryable(errors.New("plain")) {
		t.Fatalf("Retryable(plain error) = true, want false")
	}
	if Retryable(nil) {
		t.Fatalf("Retryable(nil) = true, want false")
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 2 * time.Second

	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 backoff = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, cap); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 backoff = %v, want 200ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 backoff = %v, want cap %v", got, cap)
	}
}
