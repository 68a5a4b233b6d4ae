package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/gateway"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/service"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type checkoutService interface {
	StartCheckout(ctx context.Context, actor service.Actor, req dto.CheckoutRequest) (*dto.CheckoutResponse, error)
	Reconcile(ctx context.Context, actor service.Actor, courseID string, result gateway.Result) (*models.Enrollment, error)
}

// CheckoutHandler opens orders and relays widget results to reconciliation.
type CheckoutHandler struct {
	service checkoutService
}

// NewCheckoutHandler constructs the handler.
func NewCheckoutHandler(service checkoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

// Start godoc
// @Summary Open a checkout for a course
// @Tags Checkout
// @Accept json
// @Produce json
// @Param payload body dto.CheckoutRequest true "Checkout"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Already enrolled"
// @Failure 422 {object} response.Envelope "Coupon rejected"
// @Failure 502 {object} response.Envelope
// @Router /checkout [post]
func (h *CheckoutHandler) Start(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.StartCheckout(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.AlreadyEnrolled || result.Order == nil {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// Callback godoc
// @Summary Reconcile a successful payment into an enrollment
// @Description Returns 202 with the pending enrollment when the payment was taken but access could not be finalized yet.
// @Tags Checkout
// @Accept json
// @Produce json
// @Param payload body dto.PaymentCallbackRequest true "Widget success payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Signature or amount mismatch"
// @Failure 402 {object} response.Envelope "Payment failed"
// @Router /checkout/callback [post]
func (h *CheckoutHandler) Callback(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.PaymentCallbackRequest
	if !bindJSON(c, &req) {
		return
	}
	result := gateway.Succeeded(gateway.Success{
		PaymentID: req.PaymentID,
		OrderID:   req.OrderID,
		Signature: req.Signature,
		Method:    req.Method,
	})
	h.respond(c, actor, req.CourseID, result)
}

// Failure godoc
// @Summary Record a declined payment
// @Tags Checkout
// @Accept json
// @Produce json
// @Param payload body dto.PaymentFailureRequest true "Widget failure payload"
// @Success 200 {object} response.Envelope
// @Router /checkout/failure [post]
func (h *CheckoutHandler) Failure(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.PaymentFailureRequest
	if !bindJSON(c, &req) {
		return
	}
	result := gateway.Failed(gateway.Failure{OrderID: req.OrderID, Code: req.Code, Description: req.Description})
	h.respond(c, actor, req.CourseID, result)
}

func (h *CheckoutHandler) respond(c *gin.Context, actor service.Actor, courseID string, result gateway.Result) {
	enrollment, err := h.service.Reconcile(c.Request.Context(), actor, courseID, result)
	if err != nil {
		if enrollment != nil {
			response.ErrorWithData(c, err, enrollment)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
