package handler

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type mediaTokenParser interface {
	Parse(token string) (string, time.Time, error)
}

type mediaResolver interface {
	Path(name string) (string, error)
}

// MediaHandler serves locally hosted videos behind HMAC-signed links.
type MediaHandler struct {
	tokens mediaTokenParser
	files  mediaResolver
	logger *zap.Logger
}

// NewMediaHandler constructs the handler.
func NewMediaHandler(tokens mediaTokenParser, files mediaResolver, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{tokens: tokens, files: files, logger: logger}
}

// Serve godoc
// @Summary Stream a signed video
// @Tags Media
// @Produce octet-stream
// @Param key path string true "Object key"
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /media/{key} [get]
func (h *MediaHandler) Serve(c *gin.Context) {
	if h.tokens == nil || h.files == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	signedKey, _, err := h.tokens.Parse(c.Query("token"))
	if err != nil || strings.TrimPrefix(signedKey, "/") != key {
		h.logger.Debug("media token rejected", zap.String("key", key), zap.Error(err))
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired media link"))
		return
	}
	path, err := h.files.Path(key)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
		return
	}
	if _, err := os.Stat(path); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "media not found"))
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.File(path)
}
