package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrUnsupported is returned by a Provider variant for a capability its
// vendor doesn't expose (e.g. Rerank on a chat-only OpenAI-compatible
// deployment).
var ErrUnsupported = errors.New("provider: capability not supported")

// Error is the typed, non-retryable failure surfaced once retries are
// exhausted or the failure is fatal by classification. Snapshot is the
// truncated remote response body, kept only for logs.
type Error struct {
	Provider   string
	Model      string
	StatusCode int
	Snapshot   string
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s model %s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

const snapshotLimit = 2000

func truncate(body string) string {
	if len(body) <= snapshotLimit {
		return body
	}
	return body[:snapshotLimit]
}

// classify maps an HTTP status code to (retryable, fatal-kind). Mirrors
// internal/gcpclient/byollm.go's status switch, generalized across all
// variants and all capability calls (chat/stream/embed/rerank).
func classifyStatus(code int) (retryable bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// isTimeoutError matches internal/gcpclient/byollm.go's isTimeoutError.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}

func isRetryableTransport(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return isTimeoutError(err) || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "ResourceExhausted") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

// isRetryable is the shared shouldRetry predicate every adapter passes
// to withRetry: a classified *Error retries on 429/5xx status, an
// unclassified one (SDKs that don't surface a status) on transient
// transport failure.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		if provErr.StatusCode != 0 {
			return classifyStatus(provErr.StatusCode)
		}
		return isRetryableTransport(provErr.Cause)
	}
	return isRetryableTransport(err)
}
