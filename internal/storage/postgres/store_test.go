package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

func TestAccountStoreInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAccountStore(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.DiscoveryRecord{
		RunID:        "run-1",
		Username:     "carol",
		Depth:        2,
		Source:       "alice",
		DiscoveredAt: now,
	}
	source := "alice"

	mock.ExpectExec("INSERT INTO discovered_accounts").
		WithArgs(rec.RunID, "carol", 2, &source, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.WriteRecord(context.Background(), rec))
	require.NoError(t, store.Close(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStoreSeedHasNullSource(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAccountStore(mock, "accounts")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO accounts").
		WithArgs("run-1", "alice", 0, (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = store.WriteRecord(context.Background(), crawler.DiscoveryRecord{
		RunID:        "run-1",
		Username:     "alice",
		DiscoveredAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStoreWrapsExecErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAccountStore(mock, "")
	require.NoError(t, err)

	boom := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO discovered_accounts").WillReturnError(boom)

	err = store.WriteRecord(context.Background(), crawler.DiscoveryRecord{RunID: "r", Username: "x"})
	require.ErrorIs(t, err, boom)

	err = store.WriteRecord(context.Background(), crawler.DiscoveryRecord{Username: "x"})
	require.ErrorContains(t, err, "run id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoresRejectBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewAccountStore(nil, "")
	require.Error(t, err)
	_, err = NewRunStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewAccountStore(mock, "accounts; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewRunStore(mock, "1runs")
	require.ErrorContains(t, err, "invalid table name")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	accounts, err := NewAccountStore(mock, "")
	require.NoError(t, err)
	runs, err := NewRunStore(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS discovered_accounts").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, accounts.EnsureSchema(context.Background()))
	require.NoError(t, runs.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreRecordsSummary(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1700000600, 0).UTC()
	summary := crawler.Summary{
		RunID:         "run-9",
		Seeds:         2,
		Discovered:    10,
		Probed:        9,
		ProbeFailures: 1,
		Duration:      10 * time.Minute,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(
			"run-9",
			finished.Add(-10*time.Minute),
			finished,
			2,
			int64(10),
			int64(9),
			int64(1),
			int64(0),
			int64(0),
			false,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), summary, finished))
	require.ErrorContains(t, store.RecordRun(context.Background(), crawler.Summary{}, finished), "run id")
	require.NoError(t, mock.ExpectationsWereMet())
}
