package crawler

import (
	"fmt"
	"runtime"
	"strings"
)

// DefaultMaxWorkers caps the derived worker count so a large machine does
// not hammer the remote service.
const DefaultMaxWorkers = 8

// Config captures every knob that influences a crawl run.
type Config struct {
	// Seeds are the starting accounts, in order.
	Seeds []Username
	// Workers fixes the worker count. Zero derives it from the CPU count.
	Workers int
	// MaxWorkers caps the derived worker count. Zero means DefaultMaxWorkers.
	MaxWorkers int
	// MaxDepth stops expansion at this many hops from the seeds. Zero crawls
	// until the graph is exhausted.
	MaxDepth int
}

// WorkerCount resolves the number of workers to start.
func (c Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	ceiling := c.MaxWorkers
	if ceiling <= 0 {
		ceiling = DefaultMaxWorkers
	}
	return max(1, min(runtime.NumCPU(), ceiling))
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("at least one seed username is required")
	}
	for i, s := range c.Seeds {
		if strings.TrimSpace(string(s)) == "" {
			return fmt.Errorf("seed %d is empty", i)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max workers must be >= 0")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	return nil
}

// NormalizeSeeds trims whitespace and drops blanks and repeats while keeping
// the first-seen order.
func NormalizeSeeds(in []string) []Username {
	out := make([]Username, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, Username(s))
	}
	return out
}
