package worker

import (
	"context"
	"time"

	"transfer-service/internal/redisclient"
	"transfer-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reconcileLockKey = "reconciler"

// Sweeper performs one reconciliation pass
type Sweeper interface {
	Run(ctx context.Context) (int, error)
}

// Locker keeps concurrent instances from sweeping at the same time
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

// ReconcileJob runs the reconciler on a cron schedule
type ReconcileJob struct {
	sweeper  Sweeper
	locker   Locker
	schedule string
	lockTTL  time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewReconcileJob creates the job. locker may be nil when only one instance runs.
func NewReconcileJob(sweeper Sweeper, locker Locker, schedule string) *ReconcileJob {
	return &ReconcileJob{
		sweeper:  sweeper,
		locker:   locker,
		schedule: schedule,
		lockTTL:  time.Minute,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   util.GetLogger().With(zap.String("component", "reconcile_job")),
	}
}

// Start schedules the job
func (j *ReconcileJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.lockTTL)
		defer cancel()
		j.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("Reconcile job started", zap.String("schedule", j.schedule))
	return nil
}

// RunOnce performs a single sweep if this instance gets the lock. It reports
// whether a sweep ran.
func (j *ReconcileJob) RunOnce(ctx context.Context) bool {
	if j.locker != nil {
		lock, err := j.locker.AcquireLock(ctx, reconcileLockKey, j.lockTTL)
		if err != nil {
			j.logger.Error("Failed to acquire reconcile lock", zap.Error(err))
			return false
		}
		if lock == nil {
			j.logger.Debug("Reconcile lock held elsewhere, skipping")
			return false
		}
		defer func() {
			if err := j.locker.ReleaseLock(context.Background(), lock); err != nil {
				j.logger.Warn("Failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	n, err := j.sweeper.Run(ctx)
	if err != nil {
		j.logger.Error("Reconcile sweep failed", zap.Int("repaired", n), zap.Error(err))
	}
	return true
}

// Stop stops the job and waits for a running sweep to finish
func (j *ReconcileJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Reconcile job stopped")
}
