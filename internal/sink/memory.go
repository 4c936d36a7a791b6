package sink

import (
	"context"
	"sync"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// MemoryWriter keeps records in memory. It backs dry runs and tests.
type MemoryWriter struct {
	mu      sync.RWMutex
	records []crawler.DiscoveryRecord
	closed  bool
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// WriteRecord stores record.
func (m *MemoryWriter) WriteRecord(_ context.Context, record crawler.DiscoveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Close marks the writer closed.
func (m *MemoryWriter) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything written so far.
func (m *MemoryWriter) Records() []crawler.DiscoveryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crawler.DiscoveryRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Usernames returns the usernames written so far, in write order.
func (m *MemoryWriter) Usernames() []crawler.Username {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crawler.Username, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Username)
	}
	return out
}

// Closed reports whether Close was called.
func (m *MemoryWriter) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
