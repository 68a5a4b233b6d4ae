package dto

import "time"

// QuoteRequest prices a course with a coupon code.
type QuoteRequest struct {
	Code     string `json:"code" validate:"required,max=64"`
	CourseID string `json:"courseId" validate:"required"`
}

// CreateCouponRequest is the admin payload for a new coupon. Value is a
// decimal string so percentages like 12.5 survive JSON.
type CreateCouponRequest struct {
	Code                 string     `json:"code" validate:"required,max=64"`
	Type                 string     `json:"type" validate:"required,oneof=percent flat"`
	Value                string     `json:"value" validate:"required"`
	MinOrderAmount       int64      `json:"minOrderAmount" validate:"gte=0"`
	MaxDiscountAmount    int64      `json:"maxDiscountAmount" validate:"gte=0"`
	UsageLimit           int        `json:"usageLimit" validate:"gte=0"`
	UsageLimitPerUser    int        `json:"usageLimitPerUser" validate:"gte=0"`
	ValidFrom            *time.Time `json:"validFrom"`
	ValidUntil           *time.Time `json:"validUntil"`
	IsActive             *bool      `json:"isActive"`
	ApplicableCourses    []string   `json:"applicableCourses"`
	ApplicableCategories []string   `json:"applicableCategories"`
}
