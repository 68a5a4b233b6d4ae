package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/pkg/database"
)

var enrollmentCols = []string{"id", "user_id", "course_id", "status", "paid_amount", "payment_method", "payment_reference",
	"payment_record_id", "attempt", "last_error", "enrolled_at", "created_at", "updated_at"}

func enrollmentRow(status models.EnrollmentStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(enrollmentCols).
		AddRow("enr-1", "user-1", "course-1", string(status), int64(9500), "card", "pay_123", "pm-1", 1, nil, now, now, now)
}

func TestEnrollmentRepositoryFindSuccess(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE user_id = $1 AND course_id = $2 AND status = 'SUCCESS'")).
		WithArgs("user-1", "course-1").
		WillReturnRows(enrollmentRow(models.EnrollmentSuccess))

	e, err := repo.FindSuccess(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentSuccess, e.Status)
	assert.Equal(t, int64(9500), e.PaidAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryQuarantinesMalformedRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentCols).
		AddRow("enr-1", "user-1", "course-1", "SUCCESS", int64(100), nil, nil, nil, 1, nil, now, now, now).
		AddRow("enr-2", "user-1", "course-2", "ACTIVE", int64(100), nil, nil, nil, 1, nil, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC")).
		WithArgs("user-1").
		WillReturnRows(rows)

	list, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "enr-1", list[0].ID)
}

func TestEnrollmentRepositoryEnsurePending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (user_id, course_id) WHERE status = 'PENDING'")).
		WithArgs(sqlmock.AnyArg(), "user-1", "course-1", "pm-1", "pay_123", "card").
		WillReturnRows(enrollmentRow(models.EnrollmentPending))

	e, err := repo.EnsurePending(context.Background(), PendingAttempt{
		UserID: "user-1", CourseID: "course-1", PaymentRecordID: "pm-1", PaymentReference: "pay_123", PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentPending, e.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnsurePendingAfterSuccess(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE NOT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.EnsurePending(context.Background(), PendingAttempt{UserID: "user-1", CourseID: "course-1"})
	assert.ErrorIs(t, err, ErrAttemptClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDiscard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1 AND status = 'PENDING'")).
		WithArgs("e-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Discard(context.Background(), "e-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func finalizeParams(couponID *string) FinalizeParams {
	return FinalizeParams{
		EnrollmentID:     "enr-1",
		PaymentRecordID:  "pm-1",
		PaymentReference: "pay_123",
		PaymentMethod:    "card",
		PaidAmount:       9500,
		CouponID:         couponID,
		UserID:           "user-1",
	}
}

func TestEnrollmentRepositoryFinalizeCapturesAndRedeems(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)
	coupon := "coupon-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WithArgs("pm-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT usage_limit_per_user FROM coupons WHERE id = $1 FOR UPDATE")).
		WithArgs(coupon).WillReturnRows(sqlmock.NewRows([]string{"usage_limit_per_user"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2")).
		WithArgs(coupon, "user-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE coupons SET used_count = used_count + 1")).
		WithArgs(coupon).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_redemptions")).
		WithArgs(sqlmock.AnyArg(), coupon, "user-1", "pm-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'SUCCESS'")).
		WithArgs("enr-1", int64(9500), "card", "pay_123", "pm-1").
		WillReturnRows(enrollmentRow(models.EnrollmentSuccess))
	mock.ExpectCommit()

	res, err := repo.Finalize(context.Background(), finalizeParams(&coupon))
	require.NoError(t, err)
	assert.True(t, res.PaymentCaptured)
	assert.True(t, res.CouponRedeemed)
	assert.False(t, res.CouponExhausted)
	assert.Equal(t, models.EnrollmentSuccess, res.Enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFinalizeReplaySkipsCoupon(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)
	coupon := "coupon-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WithArgs("pm-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM payments WHERE id = $1 FOR UPDATE")).
		WithArgs("pm-1").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("captured"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'SUCCESS'")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Finalize(context.Background(), finalizeParams(&coupon))
	assert.ErrorIs(t, err, ErrAttemptClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFinalizeCouponExhausted(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)
	coupon := "coupon-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT usage_limit_per_user FROM coupons")).
		WillReturnRows(sqlmock.NewRows([]string{"usage_limit_per_user"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE coupons SET used_count = used_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'SUCCESS'")).
		WillReturnRows(enrollmentRow(models.EnrollmentSuccess))
	mock.ExpectCommit()

	res, err := repo.Finalize(context.Background(), finalizeParams(&coupon))
	require.NoError(t, err)
	assert.True(t, res.CouponExhausted)
	assert.False(t, res.CouponRedeemed)
}

func TestEnrollmentRepositoryFinalizeEnforcesPerUserLimit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)
	coupon := "coupon-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT usage_limit_per_user FROM coupons")).
		WithArgs(coupon).WillReturnRows(sqlmock.NewRows([]string{"usage_limit_per_user"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM coupon_redemptions")).
		WithArgs(coupon, "user-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'SUCCESS'")).
		WillReturnRows(enrollmentRow(models.EnrollmentSuccess))
	mock.ExpectCommit()

	res, err := repo.Finalize(context.Background(), finalizeParams(&coupon))
	require.NoError(t, err)
	assert.True(t, res.CouponExhausted)
	assert.False(t, res.CouponRedeemed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFinalizeRejectsFailedPayment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM payments")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	_, err := repo.Finalize(context.Background(), finalizeParams(nil))
	assert.ErrorIs(t, err, ErrPaymentNotCapturable)
}

func TestEnrollmentRepositoryFinalizeSurfacesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = 'captured'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'SUCCESS'")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: SuccessConstraint})
	mock.ExpectRollback()

	_, err := repo.Finalize(context.Background(), finalizeParams(nil))
	assert.True(t, database.IsUniqueViolation(err, SuccessConstraint))
}

func TestEnrollmentRepositoryMarkFailedOpensAttemptWhenMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET status = 'FAILED'")).
		WithArgs("user-1", "course-1", "card_declined: insufficient funds", "pm-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(sqlmock.AnyArg(), "user-1", "course-1", "pm-1", "card_declined: insufficient funds").
		WillReturnRows(enrollmentRow(models.EnrollmentFailed))
	mock.ExpectCommit()

	e, err := repo.MarkFailed(context.Background(), PendingAttempt{UserID: "user-1", CourseID: "course-1", PaymentRecordID: "pm-1"},
		"card_declined: insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentFailed, e.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMarkFailedScopesToDeclinedPayment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("AND (payment_record_id = NULLIF($4, '') OR payment_record_id IS NULL)")).
		WithArgs("user-1", "course-1", "DENIED: card declined", "pm-2").
		WillReturnRows(enrollmentRow(models.EnrollmentFailed))
	mock.ExpectCommit()

	e, err := repo.MarkFailed(context.Background(), PendingAttempt{UserID: "user-1", CourseID: "course-1", PaymentRecordID: "pm-2"},
		"DENIED: card declined")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentFailed, e.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
