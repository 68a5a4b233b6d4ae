package gateway

// Success is what the checkout widget reports after a completed payment.
type Success struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Signature string `json:"signature"`
	Method    string `json:"method,omitempty"`
}

// Failure is what the checkout widget reports when the payment is declined.
type Failure struct {
	OrderID     string `json:"orderId"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Result holds exactly one of Success or Failure. The zero value is neither
// and is rejected by the reconciler.
type Result struct {
	success *Success
	failure *Failure
}

func Succeeded(s Success) Result {
	return Result{success: &s}
}

func Failed(f Failure) Result {
	return Result{failure: &f}
}

func (r Result) Success() (Success, bool) {
	if r.success == nil {
		return Success{}, false
	}
	return *r.success, true
}

func (r Result) Failure() (Failure, bool) {
	if r.failure == nil {
		return Failure{}, false
	}
	return *r.failure, true
}

// OrderID returns the order the result belongs to.
func (r Result) OrderID() string {
	switch {
	case r.success != nil:
		return r.success.OrderID
	case r.failure != nil:
		return r.failure.OrderID
	}
	return ""
}

func (r Result) Empty() bool {
	return r.success == nil && r.failure == nil
}
