package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/followcrawl/internal/metrics"
	"github.com/JakeFAU/followcrawl/internal/queue/memory"
)

// OutputSink is the serialized destination for discovery records.
type OutputSink interface {
	RecordSink
	Start(ctx context.Context)
	Close(ctx context.Context) error
	Written() int64
	Failed() int64
}

// Engine orchestrates one breadth-first crawl: it seeds the queue, runs the
// worker pool until the queue drains, then shuts the pool and sink down.
// An Engine runs at most once because its sink is single-use.
type Engine struct {
	cfg    Config
	probe  Probe
	sink   OutputSink
	clock  Clock
	ids    IDGenerator
	logger *zap.Logger

	current atomic.Pointer[runState]
	started atomic.Bool
}

// runState is everything shared by the workers of one run.
type runState struct {
	id      string
	queue   *memory.Queue[Task]
	visited *VisitedSet

	discovered    atomic.Int64
	probed        atomic.Int64
	missing       atomic.Int64
	probeFailures atomic.Int64
	faults        atomic.Int64
}

// NewEngine wires an Engine from its collaborators. A nil logger is replaced
// with a no-op logger.
func NewEngine(
	cfg Config,
	probe Probe,
	sink OutputSink,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		probe:  probe,
		sink:   sink,
		clock:  clock,
		ids:    ids,
		logger: logger,
	}
}

// Run crawls until no work remains or ctx is canceled. On cancellation the
// sink is still drained and closed and the returned error wraps ctx.Err().
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if err := e.preflight(); err != nil {
		metrics.ObserveRun(metrics.StatusFailed)
		return Summary{}, err
	}
	if !e.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("engine already ran")
	}
	runID, err := e.ids.NewID()
	if err != nil {
		metrics.ObserveRun(metrics.StatusFailed)
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}

	state := &runState{
		id:      runID,
		queue:   memory.NewQueue[Task](),
		visited: NewVisitedSet(),
	}
	e.current.Store(state)
	start := time.Now()
	logger := e.logger.With(zap.String("run_id", runID))

	e.sink.Start(ctx)
	seeds := 0
	for _, seed := range e.cfg.Seeds {
		if !state.visited.TestAndAdd(seed) {
			continue
		}
		e.emit(state, seed, 0, "")
		state.queue.Enqueue(Task{Username: seed})
		seeds++
	}

	workers := e.cfg.WorkerCount()
	logger.Info("crawl started",
		zap.Int("seeds", seeds),
		zap.Int("workers", workers),
		zap.Int("max_depth", e.cfg.MaxDepth),
	)

	var pool errgroup.Group
	for i := range workers {
		w := &worker{
			id:     i,
			engine: e,
			state:  state,
			logger: logger.With(zap.Int("worker", i)),
		}
		pool.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}

	joinErr := state.queue.Join(ctx)
	state.queue.Close()
	_ = pool.Wait()

	closeErr := e.sink.Close(context.WithoutCancel(ctx))
	if closeErr != nil {
		logger.Error("close output sink failed", zap.Error(closeErr))
	}

	summary := Summary{
		RunID:          runID,
		Seeds:          seeds,
		Discovered:     state.discovered.Load(),
		Probed:         state.probed.Load(),
		Missing:        state.missing.Load(),
		ProbeFailures:  state.probeFailures.Load(),
		WriteFailures:  e.sink.Failed(),
		WorkerFaults:   state.faults.Load(),
		Duration:       time.Since(start),
		Canceled:       joinErr != nil,
		WorkersStarted: workers,
	}
	logger.Info("crawl finished",
		zap.Int64("discovered", summary.Discovered),
		zap.Int64("probed", summary.Probed),
		zap.Int64("probe_failures", summary.ProbeFailures),
		zap.Int64("write_failures", summary.WriteFailures),
		zap.Int64("worker_faults", summary.WorkerFaults),
		zap.Duration("duration", summary.Duration),
		zap.Bool("canceled", summary.Canceled),
	)

	switch {
	case joinErr != nil:
		metrics.ObserveRun(metrics.StatusCanceled)
		return summary, fmt.Errorf("crawl interrupted: %w", joinErr)
	case closeErr != nil:
		metrics.ObserveRun(metrics.StatusFailed)
		return summary, closeErr
	default:
		metrics.ObserveRun(metrics.StatusOK)
		return summary, nil
	}
}

// Progress reports live counters for the run in flight.
func (e *Engine) Progress() map[string]int64 {
	state := e.current.Load()
	if state == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"discovered":     state.discovered.Load(),
		"probed":         state.probed.Load(),
		"missing":        state.missing.Load(),
		"probe_failures": state.probeFailures.Load(),
		"worker_faults":  state.faults.Load(),
		"pending":        int64(state.queue.Pending()),
		"queued":         int64(state.queue.Len()),
		"written":        e.sink.Written(),
	}
}

func (e *Engine) preflight() error {
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid crawl config: %w", err)
	}
	switch {
	case e.probe == nil:
		return errors.New("probe is required")
	case e.sink == nil:
		return errors.New("output sink is required")
	case e.clock == nil:
		return errors.New("clock is required")
	case e.ids == nil:
		return errors.New("id generator is required")
	}
	return nil
}

func (e *Engine) emit(state *runState, username Username, depth int, source Username) {
	state.discovered.Add(1)
	metrics.ObserveDiscovered()
	e.sink.Write(DiscoveryRecord{
		RunID:        state.id,
		Username:     username,
		Depth:        depth,
		Source:       source,
		DiscoveredAt: e.clock.Now(),
	})
}
