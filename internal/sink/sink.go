// Package sink serializes discovery records onto a single writer goroutine so
// concurrent crawl workers never touch an output handle directly.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/metrics"
	"github.com/JakeFAU/followcrawl/internal/queue/memory"
)

// Sink is the single serialization point for discovered accounts. Write is
// non-blocking; one consumer goroutine drains the queue into the writer.
type Sink struct {
	queue   *memory.Queue[crawler.DiscoveryRecord]
	writer  crawler.RecordWriter
	logger  *zap.Logger
	done    chan struct{}
	start   sync.Once
	closing sync.Once
	closeErr error

	written atomic.Int64
	failed  atomic.Int64
}

// New builds a Sink around writer. Call Start before Write.
func New(writer crawler.RecordWriter, logger *zap.Logger) (*Sink, error) {
	if writer == nil {
		return nil, errors.New("sink writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		queue:  memory.NewQueue[crawler.DiscoveryRecord](),
		writer: writer,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine. Writer calls receive a context that
// carries ctx's values but is never canceled, so Close can always drain.
func (s *Sink) Start(ctx context.Context) {
	s.start.Do(func() {
		go s.consume(context.WithoutCancel(ctx))
	})
}

// Write queues record for persistence. Records written after Close are dropped.
func (s *Sink) Write(record crawler.DiscoveryRecord) {
	if !s.queue.Enqueue(record) {
		s.failed.Add(1)
		metrics.ObserveSinkWrite(metrics.StatusDropped)
		s.logger.Warn("sink closed; dropping record", zap.String("username", string(record.Username)))
	}
}

// Close stops accepting records, waits until every queued record has been
// handed to the writer, then closes the writer.
func (s *Sink) Close(ctx context.Context) error {
	s.closing.Do(func() {
		s.Start(ctx)
		s.queue.Close()
		select {
		case <-s.done:
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("wait for sink drain: %w", ctx.Err())
			return
		}
		if err := s.writer.Close(context.WithoutCancel(ctx)); err != nil {
			s.closeErr = fmt.Errorf("close sink writer: %w", err)
		}
	})
	return s.closeErr
}

// Written returns the number of records persisted successfully.
func (s *Sink) Written() int64 { return s.written.Load() }

// Failed returns the number of records that could not be persisted.
func (s *Sink) Failed() int64 { return s.failed.Load() }

func (s *Sink) consume(ctx context.Context) {
	defer close(s.done)
	for {
		record, err := s.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				s.logger.Error("sink dequeue failed", zap.Error(err))
			}
			return
		}
		s.persist(ctx, record)
		s.queue.Done()
	}
}

func (s *Sink) persist(ctx context.Context, record crawler.DiscoveryRecord) {
	if err := s.writer.WriteRecord(ctx, record); err != nil {
		s.failed.Add(1)
		metrics.ObserveSinkWrite(metrics.StatusFailed)
		s.logger.Error("persist record failed",
			zap.String("username", string(record.Username)),
			zap.Error(err),
		)
		return
	}
	s.written.Add(1)
	metrics.ObserveSinkWrite(metrics.StatusOK)
}
