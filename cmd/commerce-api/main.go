package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/course-commerce-api/api/swagger"
	"github.com/noah-isme/course-commerce-api/internal/gateway"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
	"github.com/noah-isme/course-commerce-api/internal/repository"
	"github.com/noah-isme/course-commerce-api/internal/service"
	"github.com/noah-isme/course-commerce-api/pkg/apiclient"
	"github.com/noah-isme/course-commerce-api/pkg/cache"
	"github.com/noah-isme/course-commerce-api/pkg/certificate"
	"github.com/noah-isme/course-commerce-api/pkg/config"
	"github.com/noah-isme/course-commerce-api/pkg/database"
	"github.com/noah-isme/course-commerce-api/pkg/jobs"
	"github.com/noah-isme/course-commerce-api/pkg/logger"
	"github.com/noah-isme/course-commerce-api/pkg/storage"
)

// @title Course Commerce API
// @version 1.0.0
// @description Course storefront: catalog, coupons, checkout reconciliation, progress and live sync.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, "migrations", "up")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logr.Info("migrations applied", zap.Strings("files", applied))
	}

	// Redis backs the catalog cache and the cross-instance change feed. The
	// API still runs without it, single-instance and uncached.
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable; catalog cache and redis feed disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	app, err := buildApp(cfg, logr, db, rdb)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.layer.Start(gctx)
	})
	g.Go(func() error {
		app.queue.Start(gctx)
		<-gctx.Done()
		app.queue.Stop()
		return nil
	})
	g.Go(func() error {
		return app.sweeper.Run(gctx)
	})
	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type app struct {
	router  *gin.Engine
	layer   *realtime.Layer
	queue   *jobs.Queue
	sweeper *service.ReconcileSweeper
}

func buildApp(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, rdb *redis.Client) (*app, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()

	courses := repository.NewCourseRepository(db, logr)
	coupons := repository.NewCouponRepository(db, logr)
	payments := repository.NewPaymentRepository(db, logr)
	enrollments := repository.NewEnrollmentRepository(db, logr)
	progress := repository.NewProgressRepository(db, logr)

	var feed realtime.Feed = realtime.NewLocalFeed()
	var cacheRepo *repository.CacheRepository
	if rdb != nil {
		cacheRepo = repository.NewCacheRepository(rdb)
		if cfg.Sync.RedisFeed {
			feed = realtime.NewRedisFeed(rdb, cfg.Sync.Channel, logr)
		}
	}
	layer := realtime.NewLayer(repository.NewSyncSource(courses, enrollments, progress), feed, realtime.Options{
		Logger:          logr,
		OnSubscriptions: metrics.SetSyncSubscriptions,
	})

	var cacheSvc *service.CacheService
	if cacheRepo != nil {
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled)
	}
	catalog := service.NewCatalogService(courses, cacheSvc, logr)
	pricing := service.NewCouponService(coupons, courses, validate, logr)

	paymentsAPI := apiclient.New(apiclient.Config{
		Candidates: apiclient.ResolveCandidates(apiclient.ResolverConfig{
			Override:    cfg.PaymentsAPI.Override,
			Development: cfg.Development(),
			ProxyPath:   cfg.PaymentsAPI.ProxyPath,
			ProxyOrigin: cfg.PaymentsAPI.ProxyOrigin,
			Remote:      cfg.PaymentsAPI.Remote,
		}),
		Tokens:   apiclient.NewServiceTokenSource(cfg.PaymentsAPI.ServiceSecret, "course-commerce-api", cfg.PaymentsAPI.ServiceTTL),
		Timeout:  cfg.PaymentsAPI.Timeout,
		Observer: metrics.ObserveGatewayCall,
		Logger:   logr,
	})

	notifier, err := newNotifier(cfg, logr)
	if err != nil {
		return nil, err
	}

	var reconciler *service.EnrollmentReconciler
	queue := jobs.NewQueue("reconcile", func(ctx context.Context, job jobs.Job) error {
		return reconciler.HandleRetryJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Reconcile.Workers,
		MaxRetries: cfg.Reconcile.MaxAttempts,
		RetryDelay: cfg.Reconcile.RetryDelay,
		Backoff:    true,
		DeadLetter: func(job jobs.Job, err error) {
			metrics.ObserveReconciliation("dead_letter")
			logr.Error("reconciliation retries exhausted", zap.String("job_id", job.ID), zap.Error(err))
		},
		Logger: logr,
	})
	reconciler = service.NewEnrollmentReconciler(service.ReconcilerDeps{
		Enrollments: enrollments,
		Payments:    payments,
		Courses:     courses,
		Pricing:     pricing,
		Checkout: gateway.NewSnapCheckout(gateway.CheckoutConfig{
			ServerKey:  cfg.Gateway.ServerKey,
			Production: cfg.Gateway.Production,
			Expiry:     cfg.Gateway.CheckoutExpiry,
		}, logr),
		Signatures: gateway.NewSigner(cfg.Gateway.SignatureKey),
		Confirmer:  gateway.NewPaymentVerifier(paymentsAPI),
		Sync:       layer,
		Retries:    queue,
		Notifier:   notifier,
		Metrics:    metrics,
		Validator:  validate,
		Logger:     logr,
		Currency:   cfg.Gateway.Currency,
		StaleAfter: cfg.Reconcile.SweepMinAge,
	})
	sweeper := service.NewReconcileSweeper(reconciler, queue, metrics, cfg.Reconcile.SweepSchedule, cfg.Reconcile.SweepBatch, logr)

	signer, hmacSigner, err := newVideoSigner(cfg.Video)
	if err != nil {
		return nil, err
	}
	documents, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		return nil, err
	}
	tracker := service.NewProgressTracker(service.ProgressDeps{
		Progress:    progress,
		Enrollments: enrollments,
		Courses:     courses,
		Signer:      signer,
		Renderer:    certificate.NewRenderer(),
		Documents:   documents,
		Sync:        layer,
		IssuerName:  cfg.Certificates.IssuerName,
		Validator:   validate,
		Logger:      logr,
	})

	var media *storage.LocalStorage
	if hmacSigner != nil {
		if media, err = storage.NewLocalStorage(cfg.Video.MediaDir); err != nil {
			return nil, err
		}
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:       service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}),
		metrics:    metrics,
		catalog:    catalog,
		coupons:    pricing,
		reconciler: reconciler,
		tracker:    tracker,
		layer:      layer,
		mediaToken: hmacSigner,
		media:      media,
		pingers:    readinessChecks(db, rdb),
	})

	return &app{router: router, layer: layer, queue: queue, sweeper: sweeper}, nil
}

func newNotifier(cfg *config.Config, logr *zap.Logger) (service.Notifier, error) {
	if cfg.Notify.SendGridAPIKey == "" {
		logr.Info("no sendgrid key configured; notifications are logged only")
		return service.NewLogNotifier(logr), nil
	}
	return service.NewEmailNotifier(cfg.Notify.SendGridAPIKey, cfg.Notify.FromEmail, cfg.Notify.FromName, logr), nil
}

// newVideoSigner returns the configured signer and, for the hmac provider,
// the same signer typed so /media can verify its tokens.
func newVideoSigner(cfg config.VideoConfig) (storage.URLSigner, *storage.HMACSigner, error) {
	switch cfg.Provider {
	case "gcs":
		signer, err := storage.NewGCSSigner(cfg.GCSBucket, cfg.GCSAccessID, cfg.GCSPrivateKey, cfg.URLTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs signer: %w", err)
		}
		return signer, nil, nil
	case "", "hmac":
		signer := storage.NewHMACSigner(cfg.SigningSecret, cfg.CDNBase, cfg.URLTTL)
		return signer, signer, nil
	default:
		return nil, nil, fmt.Errorf("unknown video url provider %q", cfg.Provider)
	}
}
