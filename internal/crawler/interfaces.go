package crawler

import (
	"context"
	"time"
)

// Probe inspects a single account on the remote service.
type Probe interface {
	// Exists reports whether the account can be crawled.
	Exists(ctx context.Context, username Username) (bool, error)
	// Following lists the accounts the user follows, in the order the
	// service returns them.
	Following(ctx context.Context, username Username) ([]Username, error)
}

// RecordWriter persists discovery records. Implementations are driven by a
// single goroutine and need not be safe for concurrent use.
type RecordWriter interface {
	WriteRecord(ctx context.Context, record DiscoveryRecord) error
	Close(ctx context.Context) error
}

// RecordSink accepts discovery records without blocking the caller.
type RecordSink interface {
	Write(record DiscoveryRecord)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
