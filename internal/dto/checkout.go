package dto

import "github.com/noah-isme/course-commerce-api/internal/models"

// CheckoutRequest starts a checkout for one course.
type CheckoutRequest struct {
	CourseID   string `json:"courseId" validate:"required"`
	CouponCode string `json:"couponCode" validate:"omitempty,max=64"`
}

// CheckoutOrder is what the client needs to open the payment widget.
type CheckoutOrder struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

// CheckoutResponse pins the quoted price for the opened order. When the user
// already owns the course only Enrollment is set.
type CheckoutResponse struct {
	AlreadyEnrolled bool               `json:"alreadyEnrolled"`
	Enrollment      *models.Enrollment `json:"enrollment,omitempty"`
	Payment         *models.Payment    `json:"payment,omitempty"`
	Order           *CheckoutOrder     `json:"order,omitempty"`
}

// PaymentCallbackRequest is the success payload relayed from the widget.
type PaymentCallbackRequest struct {
	CourseID  string `json:"courseId" validate:"required"`
	PaymentID string `json:"paymentId" validate:"required"`
	OrderID   string `json:"orderId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	Method    string `json:"method"`
}

// PaymentFailureRequest is the failure payload relayed from the widget.
type PaymentFailureRequest struct {
	CourseID    string `json:"courseId" validate:"required"`
	OrderID     string `json:"orderId" validate:"required"`
	Code        string `json:"code" validate:"required"`
	Description string `json:"description"`
}

// RetryPendingRequest lets an admin push stale PENDING attempts through
// reconciliation again.
type RetryPendingRequest struct {
	EnrollmentIDs []string `json:"enrollmentIds"`
	Limit         int      `json:"limit" validate:"omitempty,min=1,max=500"`
}

// RetryPendingResult summarises a retry run.
type RetryPendingResult struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	StillOpen []string `json:"stillPending"`
}
