package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/metrics"
	"github.com/JakeFAU/followcrawl/internal/queue/memory"
)

// worker pulls tasks off the shared queue until the queue is closed or the
// run context is canceled.
type worker struct {
	id     int
	engine *Engine
	state  *runState
	logger *zap.Logger
}

func (w *worker) loop(ctx context.Context) {
	for {
		task, err := w.state.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				w.logger.Debug("queue closed; worker exiting")
			} else {
				w.logger.Debug("worker canceled", zap.Error(err))
			}
			return
		}
		w.processOne(ctx, task)
	}
}

// processOne probes a single account and enqueues every newly seen account it
// follows. The task is always marked done, even if processing panics.
func (w *worker) processOne(ctx context.Context, task Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.state.queue.Done()
	defer func() {
		if r := recover(); r != nil {
			w.state.faults.Add(1)
			metrics.ObserveWorkerFault()
			w.logger.Error("worker fault",
				zap.String("username", string(task.Username)),
				zap.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	metrics.SetQueuePending(w.state.queue.Pending())

	maxDepth := w.engine.cfg.MaxDepth
	if maxDepth > 0 && task.Depth >= maxDepth {
		w.logger.Debug("depth limit reached",
			zap.String("username", string(task.Username)),
			zap.Int("depth", task.Depth),
		)
		return
	}

	result := w.probe(ctx, task.Username)
	w.state.probed.Add(1)
	if !result.Exists {
		w.state.missing.Add(1)
		return
	}

	for _, next := range result.Following {
		if next == "" || !w.state.visited.TestAndAdd(next) {
			continue
		}
		w.engine.emit(w.state, next, task.Depth+1, task.Username)
		w.state.queue.Enqueue(Task{Username: next, Depth: task.Depth + 1})
	}
}

// probe asks the probe about username, folding failures into a negative
// result so one bad account never stalls the crawl.
func (w *worker) probe(ctx context.Context, username Username) ProbeResult {
	p := w.engine.probe
	exists, err := p.Exists(ctx, username)
	if err != nil {
		w.probeFailed("exists", username, err)
		return ProbeResult{}
	}
	if !exists {
		w.logger.Debug("account does not exist", zap.String("username", string(username)))
		return ProbeResult{}
	}

	following, err := p.Following(ctx, username)
	if err != nil {
		w.probeFailed("following", username, err)
		return ProbeResult{Exists: true}
	}
	return ProbeResult{Exists: true, Following: following}
}

func (w *worker) probeFailed(op string, username Username, err error) {
	w.state.probeFailures.Add(1)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.logger.Debug("probe interrupted",
			zap.String("op", op),
			zap.String("username", string(username)),
			zap.Error(err),
		)
		return
	}
	w.logger.Warn("probe failed",
		zap.String("op", op),
		zap.String("username", string(username)),
		zap.Error(err),
	)
}
