package models

import (
	"errors"
	"fmt"
)

// ErrMalformed marks a stored row that cannot be trusted. Repositories log
// and skip such rows instead of returning them.
var ErrMalformed = errors.New("malformed record")

func malformed(kind, id, reason string) error {
	return fmt.Errorf("%w: %s %q: %s", ErrMalformed, kind, id, reason)
}

func (c *Course) Validate() error {
	switch {
	case c.ID == "":
		return malformed("course", c.ID, "missing id")
	case c.Price < 0:
		return malformed("course", c.ID, "negative price")
	}
	for _, m := range c.Modules {
		if m.UnlockPolicy != UnlockNone && m.UnlockPolicy != UnlockCompletePrevious {
			return malformed("module", m.ID, "unknown unlock policy "+string(m.UnlockPolicy))
		}
	}
	return nil
}

func (c *Coupon) Validate() error {
	switch {
	case c.ID == "" || c.Code == "":
		return malformed("coupon", c.ID, "missing id or code")
	case c.Type != CouponTypePercent && c.Type != CouponTypeFlat:
		return malformed("coupon", c.ID, "unknown type "+string(c.Type))
	case c.Value.IsNegative() || c.MinOrderAmount < 0 || c.MaxDiscountAmount < 0:
		return malformed("coupon", c.ID, "negative amount")
	case c.UsageLimit < 0 || c.UsageLimitPerUser < 0 || c.UsedCount < 0:
		return malformed("coupon", c.ID, "negative counter")
	}
	return nil
}

func (p *Payment) Validate() error {
	switch {
	case p.ID == "" || p.OrderID == "":
		return malformed("payment", p.ID, "missing id or order id")
	case p.Amount < 0 || p.Discount < 0 || p.ListPrice < 0:
		return malformed("payment", p.ID, "negative amount")
	}
	switch p.Status {
	case PaymentStatusCreated, PaymentStatusCaptured, PaymentStatusFailed:
		return nil
	}
	return malformed("payment", p.ID, "unknown status "+string(p.Status))
}

func (e *Enrollment) Validate() error {
	switch {
	case e.ID == "" || e.UserID == "" || e.CourseID == "":
		return malformed("enrollment", e.ID, "missing identifiers")
	case e.PaidAmount < 0:
		return malformed("enrollment", e.ID, "negative paid amount")
	}
	switch e.Status {
	case EnrollmentPending, EnrollmentSuccess, EnrollmentFailed:
		return nil
	}
	return malformed("enrollment", e.ID, "unknown status "+string(e.Status))
}

func (p *ProgressRecord) Validate() error {
	if p.ID == "" || p.UserID == "" || p.CourseID == "" {
		return malformed("progress", p.ID, "missing identifiers")
	}
	for mid, videos := range p.Modules {
		for vid, v := range videos {
			if v.WatchedSeconds < 0 || v.TotalSeconds < 0 || v.CompletionPercentage < 0 || v.CompletionPercentage > 100 {
				return malformed("progress", p.ID, fmt.Sprintf("video %s/%s out of range", mid, vid))
			}
		}
	}
	return nil
}
