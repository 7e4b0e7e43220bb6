package kvstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclick/cyclick/internal/kvstore"
)

var errDB = errors.New("db down")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresStore_Get(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs("rideStreak").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("7"))

	v, err := store.Get(context.Background(), "rideStreak")
	require.NoError(t, err)
	assert.Equal(t, "7", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WithArgs("lastRideDate").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "lastRideDate")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestPostgresStore_Set(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("rideStreak", "2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "rideStreak", "2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetMultiCommits(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("lastRideDate", "2026-10-19", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("rideStreak", "5", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SetMulti(context.Background(), map[string]string{
		"rideStreak":   "5",
		"lastRideDate": "2026-10-19",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetMultiRollsBack(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("lastRideDate", "2026-10-19", pgxmock.AnyArg()).
		WillReturnError(errDB)
	mock.ExpectRollback()

	err := store.SetMulti(context.Background(), map[string]string{
		"rideStreak":   "5",
		"lastRideDate": "2026-10-19",
	})
	assert.ErrorIs(t, err, errDB)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	mock := newMock(t)
	store := kvstore.NewPostgresStore(mock)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_store`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
