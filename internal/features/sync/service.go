package sync

import (
	"context"
	"time"

	"go-insights/internal/features/connection"
	"go-insights/internal/features/datasource"
	"go-insights/internal/providers"

	"go.uber.org/zap"
)

// stalenessWindow: sources synced within this window are skipped
const stalenessWindow = 24 * time.Hour

// interSourceDelay spaces out provider calls across a run
const interSourceDelay = 1 * time.Second

// backoffSchedule is slept through after each failed attempt; its length is
// also the maximum number of attempts per source
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

type SyncService interface {
	// RunAll syncs every stale live source. One source failing never stops
	// the run; failures are counted and logged per source.
	RunAll(ctx context.Context) (*SyncResult, error)
	Logs(ctx context.Context, userID string, limit int64) ([]SyncLog, error)
}

type SyncServiceImpl struct {
	Sources     datasource.DataSourceRepository
	Rows        datasource.DataSourceService
	Connections connection.ConnectionService
	Registry    *providers.Registry
	LogRepo     SyncLogRepository
	Warehouse   *Warehouse
	Logger      *zap.Logger

	// sleep is swappable in tests
	sleep func(context.Context, time.Duration)
}

// sleepCtx waits for d or until ctx is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func NewSyncService(sources datasource.DataSourceRepository, rows datasource.DataSourceService, connections connection.ConnectionService, registry *providers.Registry, logRepo SyncLogRepository, warehouse *Warehouse, logger *zap.Logger) SyncService {
	return &SyncServiceImpl{
		Sources:     sources,
		Rows:        rows,
		Connections: connections,
		Registry:    registry,
		LogRepo:     logRepo,
		Warehouse:   warehouse,
		Logger:      logger,
		sleep:       sleepCtx,
	}
}

func (s *SyncServiceImpl) RunAll(ctx context.Context) (*SyncResult, error) {
	started := time.Now()

	stale, err := s.Sources.ListStale(ctx, started.Add(-stalenessWindow))
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for i, ds := range stale {
		if i > 0 {
			s.sleep(ctx, interSourceDelay)
		}

		count, err := s.syncOne(ctx, &stale[i])
		if err != nil {
			result.Failed++
			s.Logger.Error("source sync failed",
				zap.String("provider", ds.Provider), zap.String("user_id", ds.UserID), zap.Error(err))
			continue
		}
		result.Succeeded++
		result.RowsProcessed += count
	}

	result.Duration = time.Since(started)
	s.Logger.Info("sync run finished",
		zap.Int("succeeded", result.Succeeded), zap.Int("failed", result.Failed),
		zap.Int("rows", result.RowsProcessed), zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *SyncServiceImpl) Logs(ctx context.Context, userID string, limit int64) ([]SyncLog, error) {
	return s.LogRepo.List(ctx, userID, limit)
}

func (s *SyncServiceImpl) syncOne(ctx context.Context, ds *datasource.DataSource) (int, error) {
	started := time.Now()

	rows, err := s.pullWithRetry(ctx, ds)
	if err != nil {
		s.record(ctx, ds, started, 0, err)
		return 0, err
	}

	if err := s.Rows.ReplaceRows(ctx, ds, rows); err != nil {
		s.record(ctx, ds, started, 0, err)
		return 0, err
	}

	if err := s.Warehouse.Mirror(ctx, ds, rows); err != nil {
		// The mirror is best-effort; primary storage already holds the data
		s.Logger.Warn("warehouse mirror failed",
			zap.String("provider", ds.Provider), zap.Error(err))
	}

	s.record(ctx, ds, started, len(rows), nil)
	return len(rows), nil
}

// pullWithRetry retries transient pull failures with fixed backoff. Terminal
// errors (revoked grants, bad provider config) abort immediately.
func (s *SyncServiceImpl) pullWithRetry(ctx context.Context, ds *datasource.DataSource) ([]map[string]interface{}, error) {
	adapter, err := s.Registry.Get(ds.Provider)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, backoff := range backoffSchedule {
		rows, err := s.pullOnce(ctx, adapter, ds)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if providers.IsTerminal(err) {
			return nil, err
		}
		s.sleep(ctx, backoff)
	}
	return nil, lastErr
}

func (s *SyncServiceImpl) pullOnce(ctx context.Context, adapter providers.Adapter, ds *datasource.DataSource) ([]map[string]interface{}, error) {
	ts, err := s.Connections.EnsureValidToken(ctx, ds.ConnectionID.Hex())
	if err != nil {
		return nil, err
	}
	return adapter.FetchRows(ctx, ts, ds.Config)
}

func (s *SyncServiceImpl) record(ctx context.Context, ds *datasource.DataSource, started time.Time, count int, syncErr error) {
	finished := time.Now()
	log := &SyncLog{
		DataSourceID: ds.ID,
		UserID:       ds.UserID,
		Provider:     ds.Provider,
		Status:       SyncStatusSuccess,
		RowCount:     count,
		StartedAt:    started,
		FinishedAt:   finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
	}
	if syncErr != nil {
		log.Status = SyncStatusFailed
		log.Error = syncErr.Error()
	}
	if err := s.LogRepo.Create(ctx, log); err != nil {
		s.Logger.Error("writing sync log failed", zap.Error(err))
	}
}
