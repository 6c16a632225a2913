package queue

import (
	"math"
	"time"

	"github.com/agentsync/agentsync/internal/syncerr"
)

// backoff returns the delay before the (1-indexed) attempt-th retry:
// 2s, 4s, 8s, 16s, 32s, capped at 5 minutes.
func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	cap := 5 * time.Minute
	if d > cap {
		return cap
	}
	return d
}

// shouldRetry reports whether a failed item with retryCount prior attempts
// should be retried, given the classified error kind. Only Transient
// failures are retried; Permanent ones move straight to the failed state,
// and so does a Transient failure that has exhausted its retry budget.
func shouldRetry(kind syncerr.Kind, retryCount int) bool {
	return syncerr.Retryable(kind) && retryCount < maxRetries
}
