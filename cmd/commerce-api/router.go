package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/handler"
	"github.com/noah-isme/course-commerce-api/internal/middleware"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
	"github.com/noah-isme/course-commerce-api/internal/service"
	"github.com/noah-isme/course-commerce-api/pkg/config"
	"github.com/noah-isme/course-commerce-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-commerce-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-commerce-api/pkg/middleware/requestid"
	"github.com/noah-isme/course-commerce-api/pkg/storage"
)

type routerDeps struct {
	auth       *service.AuthService
	metrics    *service.MetricsService
	catalog    *service.CatalogService
	coupons    *service.CouponService
	reconciler *service.EnrollmentReconciler
	tracker    *service.ProgressTracker
	layer      *realtime.Layer
	mediaToken *storage.HMACSigner
	media      *storage.LocalStorage
	pingers    map[string]handler.Pinger
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.pingers)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if deps.mediaToken != nil && deps.media != nil {
		r.GET("/media/*key", handler.NewMediaHandler(deps.mediaToken, deps.media, logr).Serve)
	}

	courses := handler.NewCourseHandler(deps.catalog)
	coupons := handler.NewCouponHandler(deps.coupons)
	checkout := handler.NewCheckoutHandler(deps.reconciler)
	enrollments := handler.NewEnrollmentHandler(deps.reconciler)
	progress := handler.NewProgressHandler(deps.tracker)
	stream := handler.NewSyncHandler(deps.layer, cfg.Sync.Heartbeat, logr)

	api := r.Group(cfg.APIPrefix)
	api.GET("/courses", courses.List)
	api.GET("/courses/:id", courses.Get)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.POST("/coupons/quote", coupons.Quote)
	secured.POST("/checkout", checkout.Start)
	secured.POST("/checkout/callback", checkout.Callback)
	secured.POST("/checkout/failure", checkout.Failure)
	secured.GET("/enrollments", enrollments.List)
	secured.GET("/enrollments/:id", enrollments.Get)
	secured.POST("/progress/watch", progress.Watch)
	secured.GET("/progress/:courseId", progress.Overview)
	secured.GET("/progress/:courseId/videos/:videoId/access", progress.VideoAccess)
	secured.GET("/progress/:courseId/certificate", progress.Certificate)
	secured.GET("/sync/:collection", stream.Stream)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/coupons", coupons.Create)
	admin.GET("/coupons/:id", coupons.Get)
	admin.POST("/enrollments/retry", enrollments.Retry)
	admin.POST("/catalog/invalidate", courses.Invalidate)

	return r
}

func readinessChecks(db *sqlx.DB, rdb *redis.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"postgres": db.PingContext,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}
