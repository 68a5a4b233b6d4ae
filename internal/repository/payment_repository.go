package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

const paymentColumns = `id, user_id, customer_email, course_id, amount, currency, list_price, discount, coupon_id, coupon_code,
order_id, payment_id, signature, method, status, failure_code, failure_reason, created_at, updated_at`

// PaymentRepository persists checkout attempts.
type PaymentRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPaymentRepository(db *sqlx.DB, logger *zap.Logger) *PaymentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentRepository{db: db, logger: logger}
}

// Create stores a new payment in the created state.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	payment.Status = models.PaymentStatusCreated
	payment.CreatedAt, payment.UpdatedAt = now, now
	const query = `INSERT INTO payments (id, user_id, customer_email, course_id, amount, currency, list_price, discount, coupon_id,
coupon_code, order_id, status, created_at, updated_at)
VALUES (:id, :user_id, :customer_email, :course_id, :amount, :currency, :list_price, :discount, :coupon_id, :coupon_code, :order_id,
:status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return r.findOne(ctx, "order_id = $1", orderID)
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *PaymentRepository) findOne(ctx context.Context, cond string, arg interface{}) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE "+cond, arg); err != nil {
		return nil, err
	}
	if err := payment.Validate(); err != nil {
		r.logger.Warn("quarantined payment row", zap.String("payment_id", payment.ID), zap.Error(err))
		return nil, sql.ErrNoRows
	}
	return &payment, nil
}

// AttachGatewayRefs records the gateway identifiers on a payment that is
// still open. Terminal payments are left untouched.
func (r *PaymentRepository) AttachGatewayRefs(ctx context.Context, id, gatewayPaymentID, signature, method string) error {
	const query = `UPDATE payments SET payment_id = $2, signature = $3, method = NULLIF($4, ''), updated_at = NOW()
WHERE id = $1 AND status = 'created'`
	if _, err := r.db.ExecContext(ctx, query, id, gatewayPaymentID, signature, method); err != nil {
		return fmt.Errorf("attach gateway refs: %w", err)
	}
	return nil
}

// MarkFailed moves an open payment to failed. It reports whether a row changed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id, code, reason string) (bool, error) {
	const query = `UPDATE payments SET status = 'failed', failure_code = $2, failure_reason = $3, updated_at = NOW()
WHERE id = $1 AND status = 'created'`
	res, err := r.db.ExecContext(ctx, query, id, code, reason)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment failed rows: %w", err)
	}
	return n == 1, nil
}

// ListOrphaned returns open payments that carry gateway refs but no
// enrollment attempt, last touched between since and before.
func (r *PaymentRepository) ListOrphaned(ctx context.Context, before, since time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Payment
	query := "SELECT " + paymentColumns + ` FROM payments p
WHERE p.status = 'created' AND p.payment_id IS NOT NULL AND p.updated_at < $1 AND p.updated_at > $2
  AND NOT EXISTS (SELECT 1 FROM enrollments e WHERE e.payment_record_id = p.id)
ORDER BY p.updated_at ASC LIMIT $3`
	if err := r.db.SelectContext(ctx, &rows, query, before, since, limit); err != nil {
		return nil, fmt.Errorf("list orphaned payments: %w", err)
	}
	out := make([]models.Payment, 0, len(rows))
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			r.logger.Warn("quarantined payment row", zap.String("payment_id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, rows[i])
	}
	return out, nil
}
