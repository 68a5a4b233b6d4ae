package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func fastOpts() TxOptions {
	opts := DefaultTxOptions()
	opts.BaseBackoff = time.Millisecond
	return opts
}

func TestWithTransactionCommits(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courses").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := WithTransaction(context.Background(), db, fastOpts(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec("UPDATE courses SET title = 'x'")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := WithTransaction(context.Background(), db, fastOpts(), func(tx *sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryRetriesSerializationFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := WithRetry(context.Background(), db, fastOpts(), func(tx *sqlx.Tx) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := WithRetry(context.Background(), db, fastOpts(), func(tx *sqlx.Tx) error {
		calls++
		return &pq.Error{Code: "23505", Constraint: "enrollments_success_unique"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsUniqueViolation(err, "enrollments_success_unique"))
	assert.False(t, IsUniqueViolation(err, "other"))
}

func TestWithRetryGivesUp(t *testing.T) {
	db, mock := newMockDB(t)
	opts := fastOpts()
	opts.MaxRetries = 1
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := WithRetry(context.Background(), db, opts, func(tx *sqlx.Tx) error {
		return &pq.Error{Code: "40P01"}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (1) exceeded")
	assert.True(t, IsRetryable(err))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorClassSerialization, ClassifyError(&pq.Error{Code: "40001"}))
	assert.Equal(t, ErrorClassDeadlock, ClassifyError(&pq.Error{Code: "40P01"}))
	assert.Equal(t, ErrorClassTransient, ClassifyError(&pq.Error{Code: "55P03"}))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(&pq.Error{Code: "23503"}))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(errors.New("plain")))
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505", Constraint: "c"}, "c"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23505", Constraint: "other"}, "c"))
}
