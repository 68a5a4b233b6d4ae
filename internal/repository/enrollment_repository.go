package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/pkg/database"
)

const enrollmentColumns = `id, user_id, course_id, status, paid_amount, payment_method, payment_reference,
payment_record_id, attempt, last_error, enrolled_at, created_at, updated_at`

// EnrollmentRepository persists enrollment attempts and runs the finalize
// transaction that ties a captured payment to a SUCCESS enrollment.
type EnrollmentRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	txOpts database.TxOptions
}

func NewEnrollmentRepository(db *sqlx.DB, logger *zap.Logger) *EnrollmentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentRepository{db: db, logger: logger, txOpts: database.DefaultTxOptions()}
}

// FindSuccess returns the SUCCESS enrollment for (user, course) or sql.ErrNoRows.
func (r *EnrollmentRepository) FindSuccess(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findOne(ctx, "user_id = $1 AND course_id = $2 AND status = 'SUCCESS'", userID, courseID)
}

func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *EnrollmentRepository) findOne(ctx context.Context, cond string, args ...interface{}) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := r.db.GetContext(ctx, &e, "SELECT "+enrollmentColumns+" FROM enrollments WHERE "+cond, args...); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		r.logger.Warn("quarantined enrollment row", zap.String("enrollment_id", e.ID), zap.Error(err))
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

// ListByUser returns every attempt of a user, newest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	query := "SELECT " + enrollmentColumns + " FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC"
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return r.keepValid(rows), nil
}

// ListStalePending returns PENDING attempts not touched since before.
func (r *EnrollmentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Enrollment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Enrollment
	query := "SELECT " + enrollmentColumns + ` FROM enrollments
WHERE status = 'PENDING' AND payment_reference IS NOT NULL AND updated_at < $1
ORDER BY updated_at ASC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("list stale enrollments: %w", err)
	}
	return r.keepValid(rows), nil
}

func (r *EnrollmentRepository) keepValid(rows []models.Enrollment) []models.Enrollment {
	out := make([]models.Enrollment, 0, len(rows))
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			r.logger.Warn("quarantined enrollment row", zap.String("enrollment_id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, rows[i])
	}
	return out
}

// PendingAttempt describes the attempt EnsurePending opens or refreshes.
type PendingAttempt struct {
	UserID           string
	CourseID         string
	PaymentRecordID  string
	PaymentReference string
	PaymentMethod    string
}

// EnsurePending opens a PENDING attempt for (user, course) or refreshes the
// existing one with the latest payment references. The attempt number counts
// every prior attempt including FAILED ones. Once the pair has a SUCCESS row
// no attempt is opened and ErrAttemptClosed is returned.
func (r *EnrollmentRepository) EnsurePending(ctx context.Context, a PendingAttempt) (*models.Enrollment, error) {
	query := `INSERT INTO enrollments (id, user_id, course_id, status, payment_record_id, payment_reference, payment_method,
attempt, created_at, updated_at)
SELECT $1, $2, $3, 'PENDING', NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
  (SELECT COUNT(*) + 1 FROM enrollments WHERE user_id = $2 AND course_id = $3), NOW(), NOW()
WHERE NOT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $2 AND course_id = $3 AND status = 'SUCCESS')
ON CONFLICT (user_id, course_id) WHERE status = 'PENDING'
DO UPDATE SET payment_record_id = COALESCE(EXCLUDED.payment_record_id, enrollments.payment_record_id),
  payment_reference = COALESCE(EXCLUDED.payment_reference, enrollments.payment_reference),
  payment_method = COALESCE(EXCLUDED.payment_method, enrollments.payment_method),
  updated_at = NOW()
RETURNING ` + enrollmentColumns

	var e models.Enrollment
	err := r.db.GetContext(ctx, &e, query, uuid.NewString(), a.UserID, a.CourseID, a.PaymentRecordID, a.PaymentReference, a.PaymentMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptClosed
	}
	if err != nil {
		return nil, fmt.Errorf("ensure pending enrollment: %w", err)
	}
	return &e, nil
}

// Discard removes a PENDING attempt that lost the race to another SUCCESS.
func (r *EnrollmentRepository) Discard(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1 AND status = 'PENDING'`, id); err != nil {
		return fmt.Errorf("discard enrollment attempt: %w", err)
	}
	return nil
}

// RecordError keeps the attempt PENDING and stores why finalizing failed.
func (r *EnrollmentRepository) RecordError(ctx context.Context, id, lastErr string) error {
	const query = `UPDATE enrollments SET last_error = $2, updated_at = NOW() WHERE id = $1 AND status = 'PENDING'`
	if _, err := r.db.ExecContext(ctx, query, id, lastErr); err != nil {
		return fmt.Errorf("record enrollment error: %w", err)
	}
	return nil
}

// MarkFailed closes the PENDING attempt of the declined payment as FAILED.
// A PENDING attempt bound to another payment is left alone and the decline
// gets its own FAILED row, as it does when no attempt was open yet.
func (r *EnrollmentRepository) MarkFailed(ctx context.Context, a PendingAttempt, reason string) (*models.Enrollment, error) {
	var out models.Enrollment
	err := database.WithRetry(ctx, r.db, r.txOpts, func(tx *sqlx.Tx) error {
		const upd = `UPDATE enrollments SET status = 'FAILED', last_error = $3, updated_at = NOW()
WHERE user_id = $1 AND course_id = $2 AND status = 'PENDING'
  AND (payment_record_id = NULLIF($4, '') OR payment_record_id IS NULL) RETURNING ` + enrollmentColumns
		err := tx.GetContext(ctx, &out, upd, a.UserID, a.CourseID, reason, a.PaymentRecordID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		const ins = `INSERT INTO enrollments (id, user_id, course_id, status, payment_record_id, last_error, attempt,
created_at, updated_at)
VALUES ($1, $2, $3, 'FAILED', NULLIF($4, ''), $5,
  (SELECT COUNT(*) + 1 FROM enrollments WHERE user_id = $2 AND course_id = $3), NOW(), NOW())
RETURNING ` + enrollmentColumns
		return tx.GetContext(ctx, &out, ins, uuid.NewString(), a.UserID, a.CourseID, a.PaymentRecordID, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("mark enrollment failed: %w", err)
	}
	return &out, nil
}

// FinalizeParams are the writes grouped in one finalize transaction.
type FinalizeParams struct {
	EnrollmentID     string
	PaymentRecordID  string
	PaymentReference string
	PaymentMethod    string
	PaidAmount       int64
	CouponID         *string
	UserID           string
}

// FinalizeResult reports what the transaction changed.
type FinalizeResult struct {
	Enrollment      *models.Enrollment
	PaymentCaptured bool
	CouponRedeemed  bool
	// CouponExhausted is set when the coupon hit its limit between quote and
	// capture. The enrollment still succeeds.
	CouponExhausted bool
}

// Finalize captures the payment, marks the attempt SUCCESS and redeems the
// coupon in one transaction. The coupon is only touched when this call moved
// the payment from created to captured, so replays never double count.
// A concurrent winner surfaces as ErrAttemptClosed or a unique violation on
// SuccessConstraint.
func (r *EnrollmentRepository) Finalize(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	var result FinalizeResult
	err := database.WithRetry(ctx, r.db, r.txOpts, func(tx *sqlx.Tx) error {
		result = FinalizeResult{}

		res, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'captured', updated_at = NOW() WHERE id = $1 AND status = 'created'`,
			p.PaymentRecordID)
		if err != nil {
			return fmt.Errorf("capture payment: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("capture payment rows: %w", err)
		}
		if n == 0 {
			var status models.PaymentStatus
			if err := tx.GetContext(ctx, &status, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, p.PaymentRecordID); err != nil {
				return fmt.Errorf("load payment status: %w", err)
			}
			if status != models.PaymentStatusCaptured {
				return ErrPaymentNotCapturable
			}
		}
		result.PaymentCaptured = n == 1

		if result.PaymentCaptured && p.CouponID != nil && *p.CouponID != "" {
			redeemed, err := redeemCoupon(ctx, tx, *p.CouponID, p.UserID, p.PaymentRecordID)
			if err != nil {
				return err
			}
			result.CouponRedeemed, result.CouponExhausted = redeemed, !redeemed
		}

		var enrollment models.Enrollment
		err = tx.GetContext(ctx, &enrollment, `UPDATE enrollments SET status = 'SUCCESS', paid_amount = $2,
payment_method = COALESCE(NULLIF($3, ''), payment_method), payment_reference = $4, payment_record_id = $5,
last_error = NULL, enrolled_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'PENDING' RETURNING `+enrollmentColumns,
			p.EnrollmentID, p.PaidAmount, p.PaymentMethod, p.PaymentReference, p.PaymentRecordID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptClosed
		}
		if err != nil {
			return err
		}
		result.Enrollment = &enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// redeemCoupon counts one use of the coupon when both its global and its
// per-user limit still allow it. The coupon row lock serialises concurrent
// finalizes, so the redemption count read after it is current.
func redeemCoupon(ctx context.Context, tx *sqlx.Tx, couponID, userID, paymentID string) (bool, error) {
	var perUser int
	if err := tx.GetContext(ctx, &perUser, `SELECT usage_limit_per_user FROM coupons WHERE id = $1 FOR UPDATE`, couponID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock coupon: %w", err)
	}
	if perUser > 0 {
		var used int
		if err := tx.GetContext(ctx, &used, `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`,
			couponID, userID); err != nil {
			return false, fmt.Errorf("count coupon redemptions: %w", err)
		}
		if used >= perUser {
			return false, nil
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`, couponID)
	if err != nil {
		return false, fmt.Errorf("increment coupon usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment coupon rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO coupon_redemptions (id, coupon_id, user_id, payment_id, created_at)
VALUES ($1, $2, $3, $4, NOW())`, uuid.NewString(), couponID, userID, paymentID); err != nil {
		return false, fmt.Errorf("record coupon redemption: %w", err)
	}
	return true, nil
}
