package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

func percentCoupon(value int64, maxDiscount int64) *models.Coupon {
	return &models.Coupon{
		ID: "cp-1", Code: "LAUNCH", Type: models.CouponTypePercent, Value: decimal.NewFromInt(value),
		MaxDiscountAmount: maxDiscount, IsActive: true,
	}
}

func TestPriceOrderCappedPercent(t *testing.T) {
	q := PriceOrder(percentCoupon(10, 500), OrderContext{OrderAmount: 10000, CourseID: "course-1"}, time.Now())
	assert.True(t, q.Valid)
	assert.Equal(t, int64(500), q.Discount)
	assert.Equal(t, int64(9500), q.FinalAmount)
}

func TestPriceOrderRoundsHalfUp(t *testing.T) {
	c := percentCoupon(0, 0)
	c.Value = decimal.RequireFromString("12.5")
	q := PriceOrder(c, OrderContext{OrderAmount: 1004}, time.Now())
	// 1004 * 12.5% = 125.5
	assert.Equal(t, int64(126), q.Discount)
	assert.Equal(t, int64(878), q.FinalAmount)
}

func TestPriceOrderFlatNeverExceedsOrder(t *testing.T) {
	c := &models.Coupon{ID: "cp-2", Code: "FLAT", Type: models.CouponTypeFlat, Value: decimal.NewFromInt(5000), IsActive: true}
	q := PriceOrder(c, OrderContext{OrderAmount: 3000}, time.Now())
	assert.True(t, q.Valid)
	assert.Equal(t, int64(3000), q.Discount)
	assert.Equal(t, int64(0), q.FinalAmount)
}

func TestPriceOrderReasons(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	cases := []struct {
		name   string
		mutate func(*models.Coupon)
		order  OrderContext
		want   QuoteReason
	}{
		{"not started", func(c *models.Coupon) { c.ValidFrom = &future }, OrderContext{OrderAmount: 100}, ReasonExpired},
		{"ended", func(c *models.Coupon) { c.ValidUntil = &past }, OrderContext{OrderAmount: 100}, ReasonExpired},
		{"expired beats inactive", func(c *models.Coupon) { c.ValidUntil = &past; c.IsActive = false }, OrderContext{OrderAmount: 100}, ReasonExpired},
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, OrderContext{OrderAmount: 100}, ReasonInactive},
		{"minimum", func(c *models.Coupon) { c.MinOrderAmount = 1000 }, OrderContext{OrderAmount: 999}, ReasonBelowMinimum},
		{"global limit", func(c *models.Coupon) { c.UsageLimit = 5; c.UsedCount = 5 }, OrderContext{OrderAmount: 100}, ReasonGlobalLimitReached},
		{"per user", func(c *models.Coupon) { c.UsageLimitPerUser = 1 }, OrderContext{OrderAmount: 100, PriorRedemptions: 1}, ReasonPerUserLimitReached},
		{"course excluded", func(c *models.Coupon) { c.ApplicableCourses = pq.StringArray{"course-9"} }, OrderContext{OrderAmount: 100, CourseID: "course-1"}, ReasonNotApplicable},
		{"category match", func(c *models.Coupon) { c.ApplicableCategories = pq.StringArray{"Backend"} }, OrderContext{OrderAmount: 100, CourseID: "course-1", CourseCategory: "backend"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := percentCoupon(10, 0)
			tc.mutate(c)
			q := PriceOrder(c, tc.order, now)
			assert.Equal(t, tc.want, q.Reason)
			assert.Equal(t, tc.want == "", q.Valid)
			if !q.Valid {
				assert.Equal(t, tc.order.OrderAmount, q.FinalAmount)
				assert.Zero(t, q.Discount)
			}
		})
	}

	assert.Equal(t, ReasonNotFound, PriceOrder(nil, OrderContext{OrderAmount: 100}, now).Reason)
}

func TestPriceOrderBoundsHoldForRandomCoupons(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now()
	for i := 0; i < 2000; i++ {
		order := rng.Int63n(1_000_000)
		var c *models.Coupon
		if rng.Intn(2) == 0 {
			c = percentCoupon(rng.Int63n(150), rng.Int63n(5000))
		} else {
			c = &models.Coupon{ID: "f", Code: "F", Type: models.CouponTypeFlat, Value: decimal.NewFromInt(rng.Int63n(2_000_000)), IsActive: true}
		}
		q := PriceOrder(c, OrderContext{OrderAmount: order}, now)

		assert.GreaterOrEqual(t, q.FinalAmount, int64(0))
		assert.LessOrEqual(t, q.FinalAmount, order)
		assert.Equal(t, order, q.FinalAmount+q.Discount)
		if c.Type == models.CouponTypePercent && c.MaxDiscountAmount > 0 {
			assert.LessOrEqual(t, q.Discount, c.MaxDiscountAmount)
		}
	}
}
