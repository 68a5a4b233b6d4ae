package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/service"
)

func newRouter(auth *service.AuthService, metrics *service.MetricsService, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(metrics))
	handlers := append([]gin.HandlerFunc{JWT(auth)}, guards...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString("log_user_id")})
	})
	r.GET("/private", handlers...)
	return r
}

func TestJWTAcceptsBearerAndQueryToken(t *testing.T) {
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	token, err := auth.IssueToken("u1", "u1@example.com", models.RoleStudent, time.Minute)
	require.NoError(t, err)
	r := newRouter(auth, nil)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"u1"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTRejectsMissingOrMalformed(t *testing.T) {
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	r := newRouter(auth, nil)

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestRequireRoles(t *testing.T) {
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	metrics := service.NewMetricsService()
	r := newRouter(auth, metrics, RequireRoles(models.RoleAdmin))
	student, _ := auth.IssueToken("u1", "", models.RoleStudent, time.Minute)
	admin, _ := auth.IssueToken("a1", "", models.RoleAdmin, time.Minute)

	for token, want := range map[string]int{student: http.StatusForbidden, admin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func requestCounts(t *testing.T, metrics *service.MetricsService) map[string]float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					out[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/courses/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sync/:collection", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.String(http.StatusOK, ": ping\n\n")
	})

	for _, target := range []string{"/courses/go-101", "/courses/go-201", "/media/videos/a.mp4?sig=1", "/nope", "/sync/courses"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	counts := requestCounts(t, metrics)
	assert.Equal(t, float64(2), counts["/courses/:id"])
	assert.Equal(t, float64(2), counts[unmatchedRoute])
	assert.NotContains(t, counts, "/sync/:collection")
	assert.NotContains(t, counts, "/nope")
}
