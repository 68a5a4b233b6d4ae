package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

// QuoteReason explains why a coupon cannot be applied.
type QuoteReason string

const (
	ReasonNotFound            QuoteReason = "NOT_FOUND"
	ReasonExpired             QuoteReason = "EXPIRED"
	ReasonInactive            QuoteReason = "INACTIVE"
	ReasonBelowMinimum        QuoteReason = "BELOW_MINIMUM"
	ReasonGlobalLimitReached  QuoteReason = "GLOBAL_LIMIT_REACHED"
	ReasonPerUserLimitReached QuoteReason = "PER_USER_LIMIT_REACHED"
	ReasonNotApplicable       QuoteReason = "NOT_APPLICABLE"
)

var hundred = decimal.NewFromInt(100)

// OrderContext is everything about the order a coupon rule may look at.
type OrderContext struct {
	OrderAmount      int64
	UserID           string
	PriorRedemptions int
	CourseID         string
	CourseCategory   string
}

// Quote is the outcome of pricing an order. An invalid quote still carries
// the undiscounted amount so checkout can fall back to the list price.
type Quote struct {
	Valid       bool        `json:"valid"`
	CouponID    string      `json:"couponId,omitempty"`
	CouponCode  string      `json:"couponCode,omitempty"`
	OrderAmount int64       `json:"orderAmount"`
	Discount    int64       `json:"discount"`
	FinalAmount int64       `json:"finalAmount"`
	Reason      QuoteReason `json:"reason,omitempty"`
}

// PriceOrder applies coupon to the order. Rule failures are reported on the
// quote, never as errors. Checks run in a fixed order and the first failing
// one wins.
func PriceOrder(coupon *models.Coupon, order OrderContext, now time.Time) Quote {
	q := Quote{OrderAmount: order.OrderAmount, FinalAmount: nonNegative(order.OrderAmount)}
	if coupon == nil {
		q.Reason = ReasonNotFound
		return q
	}
	q.CouponID, q.CouponCode = coupon.ID, coupon.Code

	switch {
	case coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom),
		coupon.ValidUntil != nil && now.After(*coupon.ValidUntil):
		q.Reason = ReasonExpired
	case !coupon.IsActive:
		q.Reason = ReasonInactive
	case order.OrderAmount < coupon.MinOrderAmount:
		q.Reason = ReasonBelowMinimum
	case coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit:
		q.Reason = ReasonGlobalLimitReached
	case coupon.UsageLimitPerUser > 0 && order.PriorRedemptions >= coupon.UsageLimitPerUser:
		q.Reason = ReasonPerUserLimitReached
	case !applicable(coupon, order):
		q.Reason = ReasonNotApplicable
	}
	if q.Reason != "" {
		return q
	}

	q.Valid = true
	q.Discount = discountFor(coupon, q.FinalAmount)
	q.FinalAmount -= q.Discount
	return q
}

func discountFor(coupon *models.Coupon, amount int64) int64 {
	var discount int64
	switch coupon.Type {
	case models.CouponTypePercent:
		// Round half-up to whole minor units; amounts are never negative.
		discount = decimal.NewFromInt(amount).Mul(coupon.Value).Div(hundred).Round(0).IntPart()
		if coupon.MaxDiscountAmount > 0 && discount > coupon.MaxDiscountAmount {
			discount = coupon.MaxDiscountAmount
		}
	case models.CouponTypeFlat:
		discount = coupon.Value.Round(0).IntPart()
	}
	if discount > amount {
		discount = amount
	}
	return nonNegative(discount)
}

// applicable is true when no restriction is configured or when the course
// matches either list.
func applicable(coupon *models.Coupon, order OrderContext) bool {
	if len(coupon.ApplicableCourses) == 0 && len(coupon.ApplicableCategories) == 0 {
		return true
	}
	for _, id := range coupon.ApplicableCourses {
		if id == order.CourseID {
			return true
		}
	}
	for _, cat := range coupon.ApplicableCategories {
		if order.CourseCategory != "" && strings.EqualFold(cat, order.CourseCategory) {
			return true
		}
	}
	return false
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
