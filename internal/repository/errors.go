package repository

import "errors"

var (
	// ErrVersionConflict means a progress record changed since it was read.
	ErrVersionConflict = errors.New("progress version conflict")
	// ErrAttemptClosed means the enrollment attempt is no longer PENDING.
	ErrAttemptClosed = errors.New("enrollment attempt no longer pending")
	// ErrPaymentNotCapturable means the payment was failed before capture.
	ErrPaymentNotCapturable = errors.New("payment cannot be captured")
)

// SuccessConstraint is the partial unique index guarding one SUCCESS
// enrollment per (user, course).
const SuccessConstraint = "enrollments_success_unique"
