package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Type is the coarse error category clients branch on.
type Type string

const (
	TypeNetwork                        Type = "NETWORK"
	TypeValidation                     Type = "VALIDATION"
	TypeAuthentication                 Type = "AUTHENTICATION"
	TypeAuthorization                  Type = "AUTHORIZATION"
	TypeNotFound                       Type = "NOT_FOUND"
	TypeServer                         Type = "SERVER"
	TypeEnrollmentReconciliationFailed Type = "ENROLLMENT_RECONCILIATION_FAILED"
	TypeUnknown                        Type = "UNKNOWN"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Code so cloned errors still compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance. The type is derived from the status.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Type: typeForStatus(status), Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Type: typeForStatus(status), Status: status, Message: message, Err: err}
}

// WithType overrides the category on a copy of e.
func WithType(e *Error, t Type) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Type = t
	return &clone
}

var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrNetwork         = WithType(New("NETWORK_ERROR", http.StatusBadGateway, "network error"), TypeNetwork)
	ErrInvalidResponse = WithType(New("INVALID_RESPONSE", http.StatusBadGateway, "invalid response from upstream"), TypeServer)
	ErrUpstream        = WithType(New("SERVER_ERROR", http.StatusBadGateway, "upstream server error"), TypeServer)
	ErrUpstreamClient  = WithType(New("CLIENT_ERROR", http.StatusBadRequest, "upstream rejected request"), TypeValidation)

	ErrSignatureMismatch = New("SIGNATURE_MISMATCH", http.StatusForbidden, "payment signature mismatch")
	ErrAmountMismatch    = New("AMOUNT_MISMATCH", http.StatusForbidden, "confirmed amount does not match order")
	ErrNotEnrolled       = New("NOT_ENROLLED", http.StatusForbidden, "user is not enrolled in this course")
	ErrModuleLocked      = New("MODULE_LOCKED", http.StatusForbidden, "module is locked")
	ErrPaymentFailed     = New("PAYMENT_FAILED", http.StatusPaymentRequired, "payment failed")
	ErrCourseIncomplete  = New("COURSE_INCOMPLETE", http.StatusPreconditionFailed, "course is not complete")

	// Returned with 202: the payment is captured but access is not granted yet.
	ErrReconciliationFailed = WithType(
		New("ENROLLMENT_RECONCILIATION_FAILED", http.StatusAccepted, "payment received; access will be granted shortly"),
		TypeEnrollmentReconciliationFailed,
	)
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Classify maps any error onto the taxonomy. Typed errors keep their type;
// transport failures become NETWORK; everything else is UNKNOWN.
func Classify(err error) Type {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Type != "" {
		return e.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TypeNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"):
		return TypeNetwork
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "unauthenticated"):
		return TypeAuthentication
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission denied"):
		return TypeAuthorization
	case strings.Contains(msg, "not found"):
		return TypeNotFound
	}
	return TypeUnknown
}

func typeForStatus(status int) Type {
	switch {
	case status == http.StatusUnauthorized:
		return TypeAuthentication
	case status == http.StatusForbidden:
		return TypeAuthorization
	case status == http.StatusNotFound:
		return TypeNotFound
	case status >= 500:
		return TypeServer
	case status >= 400:
		return TypeValidation
	}
	return TypeUnknown
}
