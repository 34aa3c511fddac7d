// Package scheduler runs the engine's periodic maintenance on gocron v2.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/logger"
)

// Sweeper retries every unsettled operation once.
type Sweeper interface {
	ReconcileAll(ctx context.Context) reconcile.Summary
}

// JournalPruner drops journal rows not touched since cutoff.
type JournalPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnalyticsWarmer preloads course aggregates and returns how many loaded.
type AnalyticsWarmer interface {
	WarmAnalytics(ctx context.Context, resourceIDs []string) int
}

// SchedulerManager owns the single gocron scheduler of the process.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	clock     clock.Clock
	logger    logger.Interface

	// Track whether the scheduler has been started
	started   bool
	startedMu sync.RWMutex
}

func NewSchedulerManager(clk clock.Clock, log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &SchedulerManager{
		scheduler: scheduler,
		clock:     clk,
		logger:    log,
	}, nil
}

// ========================================
// Reconcile Sweep
// ========================================

// RegisterReconcileSweep retries unsettled operations every interval,
// picking up what automatic background retries gave up on.
func (m *SchedulerManager) RegisterReconcileSweep(sweeper Sweeper, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			m.sweep(ctx, sweeper)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("reconcile", "sweep"),
		gocron.WithName("reconcile-sweep"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered reconcile sweep", "interval", interval)
	return nil
}

func (m *SchedulerManager) sweep(ctx context.Context, sweeper Sweeper) {
	startTime := m.clock.Now()
	sum := sweeper.ReconcileAll(ctx)

	if sum == (reconcile.Summary{}) {
		m.logger.Debugw("reconcile sweep found nothing to do")
		return
	}
	m.logger.Infow("reconcile sweep completed",
		"converged", sum.Converged,
		"pending", sum.Pending,
		"index_lag", sum.IndexLag,
		"rejected", sum.Rejected,
		"failed", sum.Failed,
		"duration", m.clock.Now().Sub(startTime),
	)
}

// ========================================
// Journal Prune (daily)
// ========================================

// RegisterJournalPrune deletes journal rows older than retention once a
// day, starting immediately.
func (m *SchedulerManager) RegisterJournalPrune(pruner JournalPruner, retention time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			m.prune(ctx, pruner, retention)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("journal", "prune"),
		gocron.WithName("journal-prune"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered journal prune", "retention", retention)
	return nil
}

func (m *SchedulerManager) prune(ctx context.Context, pruner JournalPruner, retention time.Duration) {
	cutoff := m.clock.Now().Add(-retention)
	n, err := pruner.Prune(ctx, cutoff)
	if err != nil {
		m.logger.Errorw("failed to prune journal",
			"cutoff", cutoff,
			"error", err,
		)
		return
	}
	if n > 0 {
		m.logger.Warnw("abandoned journal entries pruned",
			"count", n,
			"cutoff", cutoff,
		)
	}
}

// ========================================
// Analytics Warm-up
// ========================================

// RegisterAnalyticsWarmup keeps the listed course aggregates loaded.
func (m *SchedulerManager) RegisterAnalyticsWarmup(warmer AnalyticsWarmer, resourceIDs []string, interval time.Duration) error {
	if len(resourceIDs) == 0 {
		return nil
	}
	ids := append([]string(nil), resourceIDs...)
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			m.warm(ctx, warmer, ids)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("analytics", "warmup"),
		gocron.WithName("analytics-warmup"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered analytics warm-up",
		"courses", len(ids),
		"interval", interval,
	)
	return nil
}

func (m *SchedulerManager) warm(ctx context.Context, warmer AnalyticsWarmer, ids []string) {
	loaded := warmer.WarmAnalytics(ctx, ids)
	if loaded < len(ids) {
		m.logger.Warnw("analytics warm-up incomplete",
			"loaded", loaded,
			"courses", len(ids),
		)
		return
	}
	m.logger.Debugw("analytics warmed", "courses", loaded)
}

// ========================================
// Scheduler Lifecycle Methods
// ========================================

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop waits for running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
