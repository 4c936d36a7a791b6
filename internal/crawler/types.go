// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Username identifies a node in the follow graph. It is case-sensitive and
// compared byte for byte.
type Username string

// Task is one unit of work on the crawl queue.
type Task struct {
	Username Username
	// Depth is the number of follow hops from the nearest seed. Seeds are 0.
	Depth int
}

// ProbeResult is what a Probe reports for a single account.
type ProbeResult struct {
	Exists    bool
	Following []Username
}

// DiscoveryRecord is emitted once per newly discovered account.
type DiscoveryRecord struct {
	RunID        string    `json:"run_id"`
	Username     Username  `json:"username"`
	Depth        int       `json:"depth"`
	Source       Username  `json:"source,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Summary reports the outcome of a crawl run.
type Summary struct {
	RunID          string        `json:"run_id"`
	Seeds          int           `json:"seeds"`
	Discovered     int64         `json:"discovered"`
	Probed         int64         `json:"probed"`
	Missing        int64         `json:"missing"`
	ProbeFailures  int64         `json:"probe_failures"`
	WriteFailures  int64         `json:"write_failures"`
	WorkerFaults   int64         `json:"worker_faults"`
	Duration       time.Duration `json:"duration"`
	Canceled       bool          `json:"canceled"`
	WorkersStarted int           `json:"workers_started"`
}
