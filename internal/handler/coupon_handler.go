package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/service"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type couponService interface {
	Quote(ctx context.Context, userID string, req dto.QuoteRequest) (*service.Quote, error)
	Get(ctx context.Context, id string) (*models.Coupon, error)
	Create(ctx context.Context, req dto.CreateCouponRequest) (*models.Coupon, error)
}

// CouponHandler exposes coupon quoting and admin management.
type CouponHandler struct {
	service couponService
}

// NewCouponHandler constructs the handler.
func NewCouponHandler(service couponService) *CouponHandler {
	return &CouponHandler{service: service}
}

// Quote godoc
// @Summary Price a course with a coupon code
// @Description An unusable coupon still returns 200 with valid=false and a reason.
// @Tags Coupons
// @Accept json
// @Produce json
// @Param payload body dto.QuoteRequest true "Quote payload"
// @Success 200 {object} response.Envelope
// @Router /coupons/quote [post]
func (h *CouponHandler) Quote(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.QuoteRequest
	if !bindJSON(c, &req) {
		return
	}
	quote, err := h.service.Quote(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quote, nil)
}

// Create godoc
// @Summary Create a coupon
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.CreateCouponRequest true "Coupon"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/coupons [post]
func (h *CouponHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.CreateCouponRequest
	if !bindJSON(c, &req) {
		return
	}
	coupon, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, coupon)
}

// Get godoc
// @Summary Coupon detail with usage counters
// @Tags Admin
// @Produce json
// @Param id path string true "Coupon ID"
// @Success 200 {object} response.Envelope
// @Router /admin/coupons/{id} [get]
func (h *CouponHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	coupon, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, coupon, nil)
}
