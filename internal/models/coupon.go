package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponTypePercent CouponType = "percent"
	CouponTypeFlat    CouponType = "flat"
)

// Coupon is a discount code. Zero limits mean unlimited and a zero
// MaxDiscountAmount means uncapped.
type Coupon struct {
	ID                   string          `db:"id" json:"id"`
	Code                 string          `db:"code" json:"code"`
	Type                 CouponType      `db:"type" json:"type"`
	Value                decimal.Decimal `db:"value" json:"value"`
	MinOrderAmount       int64           `db:"min_order_amount" json:"minOrderAmount"`
	MaxDiscountAmount    int64           `db:"max_discount_amount" json:"maxDiscountAmount"`
	UsageLimit           int             `db:"usage_limit" json:"usageLimit"`
	UsageLimitPerUser    int             `db:"usage_limit_per_user" json:"usageLimitPerUser"`
	UsedCount            int             `db:"used_count" json:"usedCount"`
	ValidFrom            *time.Time      `db:"valid_from" json:"validFrom,omitempty"`
	ValidUntil           *time.Time      `db:"valid_until" json:"validUntil,omitempty"`
	IsActive             bool            `db:"is_active" json:"isActive"`
	ApplicableCourses    pq.StringArray  `db:"applicable_courses" json:"applicableCourses"`
	ApplicableCategories pq.StringArray  `db:"applicable_categories" json:"applicableCategories"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`
}

// CouponRedemption is written once per captured payment that used a coupon.
type CouponRedemption struct {
	ID        string    `db:"id" json:"id"`
	CouponID  string    `db:"coupon_id" json:"couponId"`
	UserID    string    `db:"user_id" json:"userId"`
	PaymentID string    `db:"payment_id" json:"paymentId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
