package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-commerce-api/internal/middleware"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/service"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext writes a 401 and reports false when no caller is attached.
func actorFromContext(c *gin.Context) (service.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{UserID: claims.UserID, Email: claims.Email, Admin: claims.IsAdmin()}, true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return false
	}
	return true
}
