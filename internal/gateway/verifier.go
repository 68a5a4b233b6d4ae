package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/noah-isme/course-commerce-api/pkg/apiclient"
)

// Confirmation is the payments backend's view of a captured payment.
type Confirmation struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method"`
}

type caller interface {
	Call(ctx context.Context, endpoint string, opts apiclient.Options, out interface{}) error
}

// PaymentVerifier asks the payments backend for the confirmed amount. All
// failover and error classification happens in the api client.
type PaymentVerifier struct {
	client caller
}

func NewPaymentVerifier(client caller) *PaymentVerifier {
	return &PaymentVerifier{client: client}
}

func (v *PaymentVerifier) Confirm(ctx context.Context, paymentID string) (*Confirmation, error) {
	var out Confirmation
	if err := v.client.Call(ctx, "payments/"+url.PathEscape(paymentID), apiclient.Options{Method: http.MethodGet}, &out); err != nil {
		return nil, err
	}
	if out.PaymentID == "" {
		out.PaymentID = paymentID
	}
	return &out, nil
}
