package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

const couponColumns = `id, code, type, value, min_order_amount, max_discount_amount, usage_limit,
usage_limit_per_user, used_count, valid_from, valid_until, is_active, applicable_courses,
applicable_categories, created_at, updated_at`

// CouponRepository persists coupons and their redemptions.
type CouponRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewCouponRepository(db *sqlx.DB, logger *zap.Logger) *CouponRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CouponRepository{db: db, logger: logger}
}

// FindByCode looks a coupon up case-insensitively.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return r.findOne(ctx, "UPPER(code) = UPPER($1)", strings.TrimSpace(code))
}

func (r *CouponRepository) FindByID(ctx context.Context, id string) (*models.Coupon, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *CouponRepository) findOne(ctx context.Context, cond string, arg interface{}) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.GetContext(ctx, &coupon, "SELECT "+couponColumns+" FROM coupons WHERE "+cond, arg); err != nil {
		return nil, err
	}
	if err := coupon.Validate(); err != nil {
		r.logger.Warn("quarantined coupon row", zap.String("coupon_id", coupon.ID), zap.Error(err))
		return nil, sql.ErrNoRows
	}
	return &coupon, nil
}

// Create inserts a coupon. The code is stored upper-case.
func (r *CouponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	now := time.Now().UTC()
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	coupon.CreatedAt, coupon.UpdatedAt = now, now
	const query = `INSERT INTO coupons (id, code, type, value, min_order_amount, max_discount_amount, usage_limit,
usage_limit_per_user, used_count, valid_from, valid_until, is_active, applicable_courses, applicable_categories,
created_at, updated_at)
VALUES (:id, :code, :type, :value, :min_order_amount, :max_discount_amount, :usage_limit, :usage_limit_per_user,
:used_count, :valid_from, :valid_until, :is_active, :applicable_courses, :applicable_categories, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, coupon); err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

// CountRedemptions returns how many captured payments userID made with the coupon.
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &count, query, couponID, userID); err != nil {
		return 0, fmt.Errorf("count coupon redemptions: %w", err)
	}
	return count, nil
}
