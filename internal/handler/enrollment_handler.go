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

type enrollmentService interface {
	ListForUser(ctx context.Context, userID string) ([]models.Enrollment, error)
	Get(ctx context.Context, actor service.Actor, id string) (*models.Enrollment, error)
	RetryNow(ctx context.Context, req dto.RetryPendingRequest) (*dto.RetryPendingResult, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List the caller's enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	if h.enrollments == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollments, err := h.enrollments.ListForUser(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Get godoc
// @Summary Enrollment detail
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	if h.enrollments == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Retry godoc
// @Summary Retry reconciliation of pending enrollments
// @Description Without enrollmentIds the oldest stale attempts are retried, up to limit.
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.RetryPendingRequest false "Selection"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/retry [post]
func (h *EnrollmentHandler) Retry(c *gin.Context) {
	if h.enrollments == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.RetryPendingRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	result, err := h.enrollments.RetryNow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
