package sync

import (
	"context"
	"time"

	"go-insights/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// runTimeout bounds one scheduled pass over all stale sources
const runTimeout = 30 * time.Minute

// Scheduler drives periodic syncs off a cron expression
type Scheduler struct {
	cron    *cron.Cron
	service SyncService
	logger  *zap.Logger
}

func NewScheduler(lc fx.Lifecycle, service SyncService, cfg *config.Config, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := s.cron.AddFunc(cfg.SyncCron, s.run); err != nil {
				return err
			}
			s.cron.Start()
			logger.Info("sync scheduler started", zap.String("schedule", cfg.SyncCron))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := s.cron.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})

	return s
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if _, err := s.service.RunAll(ctx); err != nil {
		s.logger.Error("scheduled sync run failed", zap.Error(err))
	}
}
