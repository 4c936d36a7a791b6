package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// MultiWriter fans every record out to several writers. A failure in one
// writer does not stop the others from receiving the record.
type MultiWriter struct {
	writers []crawler.RecordWriter
}

// NewMultiWriter combines writers, skipping nil entries.
func NewMultiWriter(writers ...crawler.RecordWriter) *MultiWriter {
	out := make([]crawler.RecordWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return &MultiWriter{writers: out}
}

// WriteRecord writes record to every writer and joins their errors.
func (m *MultiWriter) WriteRecord(ctx context.Context, record crawler.DiscoveryRecord) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.WriteRecord(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer.
func (m *MultiWriter) Close(ctx context.Context) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
