// Package probe holds the decorators shared by every account probe: rate
// limiting, retries with backoff and Prometheus instrumentation. Concrete
// probes live in the scratchapi and headless subpackages.
package probe

import (
	"fmt"
	"net/http"
)

// Operation names used in logs and metric labels.
const (
	OpExists    = "exists"
	OpFollowing = "following"
)

// StatusError reports an HTTP status the probe could not interpret.
type StatusError struct {
	Op   string
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.Code)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
