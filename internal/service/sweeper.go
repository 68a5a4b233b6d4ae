package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type staleEnqueuer interface {
	EnqueueStale(ctx context.Context, limit int) (int, error)
}

type queueDepth interface {
	Pending() int
}

// ReconcileSweeper periodically requeues PENDING attempts that nobody is
// retrying, e.g. after a restart dropped the in-memory queue.
type ReconcileSweeper struct {
	reconciler staleEnqueuer
	queue      queueDepth
	metrics    *MetricsService
	schedule   string
	batch      int
	logger     *zap.Logger
}

func NewReconcileSweeper(reconciler staleEnqueuer, queue queueDepth, metrics *MetricsService, schedule string, batch int, logger *zap.Logger) *ReconcileSweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileSweeper{
		reconciler: reconciler,
		queue:      queue,
		metrics:    metrics,
		schedule:   schedule,
		batch:      batch,
		logger:     logger.With(zap.String("component", "sweeper")),
	}
}

// Sweep runs one pass.
func (s *ReconcileSweeper) Sweep(ctx context.Context) {
	n, err := s.reconciler.EnqueueStale(ctx, s.batch)
	if err != nil {
		s.logger.Error("sweep pending enrollments failed", zap.Error(err))
		return
	}
	if s.queue != nil {
		s.metrics.SetRetryQueueDepth(s.queue.Pending())
	}
	if n > 0 {
		s.logger.Info("requeued stale pending enrollments", zap.Int("count", n))
	}
}

// Run sweeps on the configured schedule until ctx is done.
func (s *ReconcileSweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return nil
}
