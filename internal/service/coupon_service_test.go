package service

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

type uniqueCoupons struct {
	ledgerCoupons
}

func (u uniqueCoupons) Create(ctx context.Context, c *models.Coupon) error {
	if _, err := u.FindByCode(ctx, c.Code); err == nil {
		return &pq.Error{Code: "23505", Constraint: "coupons_code_unique"}
	}
	return u.ledgerCoupons.Create(ctx, c)
}

func newCouponFixture() (*CouponService, *ledger) {
	l := newLedger()
	courses := courseTable{
		"go-101": {ID: "go-101", Title: "Go Fundamentals", Category: "Programming", Price: 10000, Published: true},
		"draft":  {ID: "draft", Title: "Draft", Price: 10000},
	}
	svc := NewCouponService(uniqueCoupons{ledgerCoupons{l}}, courses, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, l
}

func TestQuoteAppliesCoupon(t *testing.T) {
	svc, _ := newCouponFixture()
	_, err := svc.Create(context.Background(), dto.CreateCouponRequest{Code: "spring", Type: "percent", Value: "10", MaxDiscountAmount: 500})
	require.NoError(t, err)

	quote, err := svc.Quote(context.Background(), "u1", dto.QuoteRequest{Code: "SPRING", CourseID: "go-101"})

	require.NoError(t, err)
	assert.True(t, quote.Valid)
	assert.Equal(t, int64(500), quote.Discount)
	assert.Equal(t, int64(9500), quote.FinalAmount)
	assert.Equal(t, "SPRING", quote.CouponCode)
}

func TestQuoteUnknownCodeIsInvalidNotError(t *testing.T) {
	svc, _ := newCouponFixture()

	quote, err := svc.Quote(context.Background(), "u1", dto.QuoteRequest{Code: "NOPE", CourseID: "go-101"})

	require.NoError(t, err)
	assert.False(t, quote.Valid)
	assert.Equal(t, ReasonNotFound, quote.Reason)
	assert.Equal(t, int64(10000), quote.FinalAmount)
}

func TestQuoteCountsPerUserRedemptions(t *testing.T) {
	svc, l := newCouponFixture()
	coupon, err := svc.Create(context.Background(), dto.CreateCouponRequest{Code: "ONCE", Type: "flat", Value: "1000", UsageLimitPerUser: 1})
	require.NoError(t, err)
	l.redemptions[coupon.ID+"|u1"] = 1

	used, err := svc.Quote(context.Background(), "u1", dto.QuoteRequest{Code: "ONCE", CourseID: "go-101"})
	require.NoError(t, err)
	fresh, err := svc.Quote(context.Background(), "u2", dto.QuoteRequest{Code: "ONCE", CourseID: "go-101"})
	require.NoError(t, err)

	assert.Equal(t, ReasonPerUserLimitReached, used.Reason)
	assert.True(t, fresh.Valid)
}

func TestQuoteHidesUnpublishedCourse(t *testing.T) {
	svc, _ := newCouponFixture()

	_, err := svc.Quote(context.Background(), "u1", dto.QuoteRequest{Code: "X", CourseID: "draft"})

	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCreateCouponValidation(t *testing.T) {
	svc, _ := newCouponFixture()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	cases := []dto.CreateCouponRequest{
		{Code: "BAD", Type: "percent", Value: "abc"},
		{Code: "BIG", Type: "percent", Value: "120"},
		{Code: "NEG", Type: "flat", Value: "-5"},
		{Code: "WHEN", Type: "flat", Value: "5", ValidFrom: &from, ValidUntil: &until},
		{Code: "TYPE", Type: "bogus", Value: "5"},
	}
	for _, req := range cases {
		_, err := svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, appErrors.ErrValidation, req.Code)
	}
}

func TestCreateCouponDuplicateCode(t *testing.T) {
	svc, _ := newCouponFixture()
	_, err := svc.Create(context.Background(), dto.CreateCouponRequest{Code: "DUP", Type: "flat", Value: "5"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), dto.CreateCouponRequest{Code: "dup", Type: "flat", Value: "5"})

	assert.ErrorIs(t, err, appErrors.ErrConflict)
}
