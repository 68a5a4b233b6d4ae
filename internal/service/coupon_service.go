package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/pkg/database"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

type couponRepository interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindByID(ctx context.Context, id string) (*models.Coupon, error)
	Create(ctx context.Context, coupon *models.Coupon) error
	CountRedemptions(ctx context.Context, couponID, userID string) (int, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CouponService loads coupons and prices orders with PriceOrder.
type CouponService struct {
	coupons   couponRepository
	courses   courseReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewCouponService(coupons couponRepository, courses courseReader, validate *validator.Validate, logger *zap.Logger) *CouponService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CouponService{coupons: coupons, courses: courses, validator: validate, logger: logger, now: time.Now}
}

// Quote prices courseID for userID with code. Coupon rule failures, an
// unknown code included, come back as an invalid quote.
func (s *CouponService) Quote(ctx context.Context, userID string, req dto.QuoteRequest) (*Quote, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quote payload")
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	quote, err := s.price(ctx, userID, course, req.Code)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// price is shared with checkout. An empty code yields the list price.
func (s *CouponService) price(ctx context.Context, userID string, course *models.Course, code string) (Quote, error) {
	order := OrderContext{OrderAmount: course.Price, UserID: userID, CourseID: course.ID, CourseCategory: course.Category}
	code = strings.TrimSpace(code)
	if code == "" {
		return Quote{Valid: true, OrderAmount: course.Price, FinalAmount: course.Price}, nil
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return PriceOrder(nil, order, s.now()), nil
	}
	if err != nil {
		return Quote{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coupon")
	}
	if coupon.UsageLimitPerUser > 0 {
		count, err := s.coupons.CountRedemptions(ctx, coupon.ID, userID)
		if err != nil {
			return Quote{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count redemptions")
		}
		order.PriorRedemptions = count
	}
	return PriceOrder(coupon, order, s.now()), nil
}

func (s *CouponService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Published {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return course, nil
}

// Get returns a coupon by id.
func (s *CouponService) Get(ctx context.Context, id string) (*models.Coupon, error) {
	coupon, err := s.coupons.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coupon not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coupon")
	}
	return coupon, nil
}

// Create stores a new coupon. Codes are unique regardless of case.
func (s *CouponService) Create(ctx context.Context, req dto.CreateCouponRequest) (*models.Coupon, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid coupon payload")
	}
	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil || value.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "value must be a non-negative number")
	}
	if req.Type == string(models.CouponTypePercent) && value.GreaterThan(hundred) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "percent value cannot exceed 100")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "validUntil must be after validFrom")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	coupon := &models.Coupon{
		ID:                   uuid.NewString(),
		Code:                 req.Code,
		Type:                 models.CouponType(req.Type),
		Value:                value,
		MinOrderAmount:       req.MinOrderAmount,
		MaxDiscountAmount:    req.MaxDiscountAmount,
		UsageLimit:           req.UsageLimit,
		UsageLimitPerUser:    req.UsageLimitPerUser,
		ValidFrom:            req.ValidFrom,
		ValidUntil:           req.ValidUntil,
		IsActive:             active,
		ApplicableCourses:    pq.StringArray(nonNilStrings(req.ApplicableCourses)),
		ApplicableCategories: pq.StringArray(nonNilStrings(req.ApplicableCategories)),
	}
	if err := s.coupons.Create(ctx, coupon); err != nil {
		if database.IsUniqueViolation(err, "coupons_code_unique") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "coupon code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create coupon")
	}
	s.logger.Info("coupon created", zap.String("coupon_id", coupon.ID), zap.String("code", coupon.Code))
	return coupon, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
