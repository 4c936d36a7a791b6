package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// DefaultRunsTable stores one summary row per crawl run.
const DefaultRunsTable = "crawl_runs"

// RunStore records crawl run summaries.
type RunStore struct {
	pool  execer
	table string
}

// NewRunStore builds a store on an existing pool.
func NewRunStore(pool execer, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT        PRIMARY KEY,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	seeds           INTEGER     NOT NULL,
	discovered      BIGINT      NOT NULL,
	probed          BIGINT      NOT NULL,
	probe_failures  BIGINT      NOT NULL,
	write_failures  BIGINT      NOT NULL,
	worker_faults   BIGINT      NOT NULL,
	canceled        BOOLEAN     NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordRun upserts the summary of a finished run.
func (s *RunStore) RecordRun(ctx context.Context, summary crawler.Summary, finishedAt time.Time) error {
	if summary.RunID == "" {
		return fmt.Errorf("summary run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, started_at, finished_at, seeds, discovered, probed,
	probe_failures, write_failures, worker_faults, canceled
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	discovered = EXCLUDED.discovered,
	probed = EXCLUDED.probed,
	probe_failures = EXCLUDED.probe_failures,
	write_failures = EXCLUDED.write_failures,
	worker_faults = EXCLUDED.worker_faults,
	canceled = EXCLUDED.canceled`, s.table)

	_, err := s.pool.Exec(ctx, query,
		summary.RunID,
		finishedAt.Add(-summary.Duration),
		finishedAt,
		summary.Seeds,
		summary.Discovered,
		summary.Probed,
		summary.ProbeFailures,
		summary.WriteFailures,
		summary.WorkerFaults,
		summary.Canceled,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", summary.RunID, err)
	}
	return nil
}
