package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/service"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type progressService interface {
	RecordWatch(ctx context.Context, userID string, req dto.WatchRequest) (*dto.WatchResult, error)
	Overview(ctx context.Context, userID, courseID string) (*dto.CourseProgressOverview, error)
	VideoAccess(ctx context.Context, userID, courseID, videoID string) (*dto.VideoAccessResponse, error)
	Certificate(ctx context.Context, actor service.Actor, courseID string) ([]byte, string, error)
}

// ProgressHandler records playback and serves learner progress.
type ProgressHandler struct {
	service progressService
}

// NewProgressHandler constructs the handler.
func NewProgressHandler(service progressService) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// Watch godoc
// @Summary Report playback progress for a video
// @Tags Progress
// @Accept json
// @Produce json
// @Param payload body dto.WatchRequest true "Watch event"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope "Not enrolled or module locked"
// @Router /progress/watch [post]
func (h *ProgressHandler) Watch(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.WatchRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.RecordWatch(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Overview godoc
// @Summary Progress through a course
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /progress/{courseId} [get]
func (h *ProgressHandler) Overview(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), actor.UserID, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// VideoAccess godoc
// @Summary Signed playback URL for a video
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Param videoId path string true "Video ID"
// @Success 200 {object} response.Envelope
// @Router /progress/{courseId}/videos/{videoId}/access [get]
func (h *ProgressHandler) VideoAccess(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	access, err := h.service.VideoAccess(c.Request.Context(), actor.UserID, c.Param("courseId"), c.Param("videoId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, access, nil)
}

// Certificate godoc
// @Summary Download the completion certificate
// @Tags Progress
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope "Course not complete"
// @Router /progress/{courseId}/certificate [get]
func (h *ProgressHandler) Certificate(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	pdf, filename, err := h.service.Certificate(c.Request.Context(), actor, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
