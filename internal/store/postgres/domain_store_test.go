package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDomainStore(t *testing.T) (*DomainStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewDomainStore(mock, "domain_scrape_activity")
	require.NoError(t, err)
	return store, mock
}

func TestTryAcquireGranted(t *testing.T) {
	t.Parallel()

	store, mock := newDomainStore(t)

	mock.ExpectExec(`ON CONFLICT \(domain\) DO NOTHING`).
		WithArgs("example.org").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SET started = now\(\), finished = NULL`).
		WithArgs("example.org", float64(10), StaleAfter.Seconds()).
		WillReturnRows(mock.NewRows([]string{"domain"}).AddRow("example.org"))

	granted, err := store.TryAcquire(context.Background(), "example.org", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, granted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireBusyDomainNotGranted(t *testing.T) {
	t.Parallel()

	store, mock := newDomainStore(t)

	mock.ExpectExec(`ON CONFLICT \(domain\) DO NOTHING`).
		WithArgs("busy.org").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	// no row qualifies: active and not stale, or still cooling down
	mock.ExpectQuery(`SET started = now\(\), finished = NULL`).
		WithArgs("busy.org", float64(10), StaleAfter.Seconds()).
		WillReturnRows(mock.NewRows([]string{"domain"}))

	granted, err := store.TryAcquire(context.Background(), "busy.org", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, granted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireRequiresDomain(t *testing.T) {
	t.Parallel()

	store, _ := newDomainStore(t)
	_, err := store.TryAcquire(context.Background(), "", time.Second)
	require.Error(t, err)
}

func TestReleaseAlwaysStampsFinished(t *testing.T) {
	t.Parallel()

	store, mock := newDomainStore(t)

	mock.ExpectExec(`SET started = NULL, finished = now\(\)`).
		WithArgs("example.org").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Release(context.Background(), "example.org"))
	require.NoError(t, mock.ExpectationsWereMet())
}
