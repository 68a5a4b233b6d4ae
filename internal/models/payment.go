package models

import "time"

type PaymentStatus string

const (
	PaymentStatusCreated  PaymentStatus = "created"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// Payment pins the quoted price of one checkout attempt. It is immutable
// once captured or failed.
type Payment struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"userId"`
	CustomerEmail *string       `db:"customer_email" json:"-"`
	CourseID      string        `db:"course_id" json:"courseId"`
	Amount        int64         `db:"amount" json:"amount"`
	Currency      string        `db:"currency" json:"currency"`
	ListPrice     int64         `db:"list_price" json:"listPrice"`
	Discount      int64         `db:"discount" json:"discount"`
	CouponID      *string       `db:"coupon_id" json:"couponId,omitempty"`
	CouponCode    *string       `db:"coupon_code" json:"couponCode,omitempty"`
	OrderID       string        `db:"order_id" json:"orderId"`
	PaymentID     *string       `db:"payment_id" json:"paymentId,omitempty"`
	Signature     *string       `db:"signature" json:"-"`
	Method        *string       `db:"method" json:"method,omitempty"`
	Status        PaymentStatus `db:"status" json:"status"`
	FailureCode   *string       `db:"failure_code" json:"failureCode,omitempty"`
	FailureReason *string       `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

// Terminal reports whether the payment can no longer change.
func (p *Payment) Terminal() bool {
	return p.Status == PaymentStatusCaptured || p.Status == PaymentStatusFailed
}
