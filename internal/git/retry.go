package git

import (
	"context"
	"strings"
	"time"
)

// transientMarkers are stderr fragments of network failures worth retrying.
// Authentication and missing-repository errors are not among them.
var transientMarkers = []string{
	"could not resolve host",
	"connection timed out",
	"operation timed out",
	"connection reset",
	"connection refused",
	"the remote end hung up unexpectedly",
	"early eof",
	"rpc failed",
}

// isTransient reports whether git stderr describes a network hiccup.
func isTransient(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// retry runs fn up to retries+1 times with exponential backoff while it
// fails with a transient error. fn returns the stderr of its git call.
func (m *Manager) retry(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	delay := m.retryDelay

	var (
		stderr string
		err    error
	)
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			m.logger.WithFields(map[string]interface{}{
				"op":      op,
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Retrying after network error")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return stderr, ctx.Err()
			}
		}

		stderr, err = fn()
		if err == nil || !isTransient(stderr) {
			return stderr, err
		}
	}

	return stderr, err
}
