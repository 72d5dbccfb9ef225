package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/service"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// SyncWorker periodically rebuilds the leaderboard cache from the store
type SyncWorker struct {
	cache     service.RatingCache
	store     service.RatingStore
	config    *config.SyncConfig
	logger    *zap.Logger
	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	cache service.RatingCache,
	store service.RatingStore,
	cfg *config.SyncConfig,
	logger *zap.Logger,
) *SyncWorker {
	return &SyncWorker{
		cache:  cache,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Start schedules the rebuild job. The first run happens immediately.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	jobCtx, cancel := context.WithCancel(ctx)

	_, err = sched.NewJob(
		gocron.DurationJob(w.config.Interval),
		gocron.NewTask(func() { w.syncAll(jobCtx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("scheduling sync job: %w", err)
	}

	sched.Start()
	w.scheduler, w.cancel = sched, cancel
	w.logger.Info("sync worker started", zap.Duration("interval", w.config.Interval))
	return nil
}

// Stop cancels a running cycle and waits for the scheduler to drain
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler == nil {
		return nil
	}

	w.cancel()
	err := w.scheduler.Shutdown()
	w.scheduler = nil

	w.logger.Info("sync worker stopped")
	return err
}

// IsRunning returns whether the worker is currently scheduled
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scheduler != nil
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) error {
	return w.syncAll(ctx)
}

// syncAll rebuilds every game's ranking, continuing past failures
func (w *SyncWorker) syncAll(ctx context.Context) error {
	startTime := time.Now()

	var firstErr error
	synced := 0
	for _, kind := range domain.GameKinds {
		if err := w.SyncGame(ctx, kind); err != nil {
			w.logger.Error("failed to sync leaderboard",
				zap.String("game_type", string(kind)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		synced++
	}

	w.logger.Info("sync cycle completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("synced", synced),
		zap.Int("errors", len(domain.GameKinds)-synced),
	)
	return firstErr
}

// SyncGame replaces the cached ranking for kind with the stored records
func (w *SyncWorker) SyncGame(ctx context.Context, kind domain.GameKind) error {
	records, err := w.store.ListRatings(ctx, kind)
	if err != nil {
		return fmt.Errorf("listing ratings: %w", err)
	}
	if err := w.cache.ReplaceRatings(ctx, kind, records); err != nil {
		return err
	}
	w.logger.Debug("synced leaderboard from store",
		zap.String("game_type", string(kind)),
		zap.Int("player_count", len(records)),
	)
	return nil
}
