package gateway

import (
	"context"
	"fmt"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"
)

// OrderRequest describes the checkout the gateway should open.
type OrderRequest struct {
	OrderID     string
	Amount      int64
	CourseID    string
	CourseTitle string
	Category    string
	Email       string
	UserID      string
}

// Order is the opened checkout handed to the client widget.
type Order struct {
	OrderID     string `json:"orderId"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
}

// snapAPI is the slice of the Snap client used here.
type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

// SnapCheckout opens orders through Midtrans Snap.
type SnapCheckout struct {
	client snapAPI
	expiry time.Duration
	logger *zap.Logger
}

type CheckoutConfig struct {
	ServerKey  string
	Production bool
	Expiry     time.Duration
}

func NewSnapCheckout(cfg CheckoutConfig, logger *zap.Logger) *SnapCheckout {
	var client snap.Client
	if cfg.Production {
		client.New(cfg.ServerKey, midtrans.Production)
	} else {
		client.New(cfg.ServerKey, midtrans.Sandbox)
	}
	return newSnapCheckout(&client, cfg.Expiry, logger)
}

func newSnapCheckout(client snapAPI, expiry time.Duration, logger *zap.Logger) *SnapCheckout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapCheckout{client: client, expiry: expiry, logger: logger}
}

// OpenOrder creates a Snap transaction for req.
func (s *SnapCheckout) OpenOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("order id required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{Email: req.Email},
		Items: &[]midtrans.ItemDetails{{
			ID:       req.CourseID,
			Price:    req.Amount,
			Qty:      1,
			Name:     truncate(req.CourseTitle, 50),
			Category: req.Category,
		}},
		CustomField1: req.UserID,
	}
	if s.expiry > 0 {
		snapReq.Expiry = &snap.ExpiryDetails{Unit: "minute", Duration: int64(s.expiry / time.Minute)}
	}

	resp, merr := s.client.CreateTransaction(snapReq)
	if merr != nil {
		s.logger.Warn("snap create transaction failed",
			zap.String("order_id", req.OrderID),
			zap.Int("status", merr.StatusCode),
			zap.String("message", merr.Message))
		return nil, fmt.Errorf("open checkout: %s", merr.Message)
	}
	return &Order{OrderID: req.OrderID, Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
