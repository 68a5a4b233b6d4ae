package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/models"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type catalogService interface {
	List(ctx context.Context, q dto.CourseListQuery) ([]models.Course, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Course, error)
	Invalidate(ctx context.Context) error
}

// CourseHandler serves the public catalog.
type CourseHandler struct {
	service catalogService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(service catalogService) *CourseHandler {
	return &CourseHandler{service: service}
}

// List godoc
// @Summary List published courses
// @Tags Courses
// @Produce json
// @Param category query string false "Category"
// @Param q query string false "Title search"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.CourseListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	courses, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Course detail
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "id is required"))
		return
	}
	course, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Invalidate godoc
// @Summary Drop cached catalog pages
// @Tags Admin
// @Success 204
// @Router /admin/catalog/invalidate [post]
func (h *CourseHandler) Invalidate(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	if err := h.service.Invalidate(c.Request.Context()); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "catalog cache invalidation failed"))
		return
	}
	response.NoContent(c)
}
