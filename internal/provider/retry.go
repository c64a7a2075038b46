package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// retrySchedule mirrors internal/gcpclient/retry.go's backoff shape:
// a fixed delay sequence with a ceiling, generalized to honor a
// server-supplied Retry-After on the response that triggered the retry.
var retrySchedule = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

// withRetry runs fn up to len(retrySchedule)+1 times total, retrying
// only when shouldRetry(err) is true. retryAfter, if non-nil, overrides
// the schedule's delay for that attempt (used for 429 Retry-After).
func withRetry[T any](ctx context.Context, operation string, shouldRetry func(error) bool, fn func() (T, *http.Response, error)) (T, error) {
	result, resp, err := fn()
	if err == nil {
		return result, nil
	}
	if !shouldRetry(err) {
		var zero T
		return zero, err
	}

	for i, delay := range retrySchedule {
		if resp != nil {
			if ra := retryAfterDelay(resp); ra > 0 {
				delay = ra
			}
		}

		slog.Warn("[DEBUG-PROVIDER] retrying after transient error",
			"operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, resp, err = fn()
		if err == nil {
			return result, nil
		}
		if !shouldRetry(err) {
			var zero T
			return zero, err
		}
	}

	var zero T
	return zero, fmt.Errorf("%s: retries exhausted: %w", operation, err)
}

func retryAfterDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
