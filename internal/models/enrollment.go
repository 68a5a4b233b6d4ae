package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment attempt.
type EnrollmentStatus string

const (
	EnrollmentPending EnrollmentStatus = "PENDING"
	EnrollmentSuccess EnrollmentStatus = "SUCCESS"
	EnrollmentFailed  EnrollmentStatus = "FAILED"
)

// Enrollment is one attempt at granting a user access to a course. At most
// one SUCCESS row exists per (user, course); FAILED rows are never reopened.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"userId"`
	CourseID         string           `db:"course_id" json:"courseId"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	PaidAmount       int64            `db:"paid_amount" json:"paidAmount"`
	PaymentMethod    *string          `db:"payment_method" json:"paymentMethod,omitempty"`
	PaymentReference *string          `db:"payment_reference" json:"paymentReference,omitempty"`
	PaymentRecordID  *string          `db:"payment_record_id" json:"paymentRecordId,omitempty"`
	Attempt          int              `db:"attempt" json:"attempt"`
	LastError        *string          `db:"last_error" json:"lastError,omitempty"`
	EnrolledAt       *time.Time       `db:"enrolled_at" json:"enrolledAt,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updatedAt"`
}

// Active reports whether the enrollment grants access.
func (e *Enrollment) Active() bool {
	return e != nil && e.Status == EnrollmentSuccess
}
