package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// DefaultAccountsTable stores one row per discovered account per run.
const DefaultAccountsTable = "discovered_accounts"

// AccountStore writes discovery records into Postgres. It implements
// crawler.RecordWriter but does not own its pool.
type AccountStore struct {
	pool  execer
	table string
}

// NewAccountStore builds a store on an existing pool.
func NewAccountStore(pool execer, table string) (*AccountStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultAccountsTable)
	if err != nil {
		return nil, err
	}
	return &AccountStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the accounts table when it does not exist.
func (s *AccountStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT        NOT NULL,
	username      TEXT        NOT NULL,
	depth         INTEGER     NOT NULL,
	source        TEXT,
	discovered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, username)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// WriteRecord inserts record. Repeats within a run are ignored.
func (s *AccountStore) WriteRecord(ctx context.Context, record crawler.DiscoveryRecord) error {
	if record.RunID == "" {
		return fmt.Errorf("record run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	username,
	depth,
	source,
	discovered_at
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (run_id, username) DO NOTHING`, s.table)

	var source *string
	if record.Source != "" {
		v := string(record.Source)
		source = &v
	}
	args := []any{
		record.RunID,
		string(record.Username),
		record.Depth,
		source,
		record.DiscoveredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert account %q: %w", record.Username, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *AccountStore) Close(context.Context) error {
	return nil
}
