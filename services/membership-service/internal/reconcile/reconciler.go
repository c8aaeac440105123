// Package reconcile repairs businesses whose plan was not applied after
// their membership request completed.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/metrics"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
)

type Source interface {
	ListUnsyncedActivations(ctx context.Context, limit int) ([]storage.PendingActivation, error)
}

type Activator interface {
	Activate(ctx context.Context, a storage.PendingActivation) (membership.Activation, error)
}

// Locker elects the single instance that reconciles. A nil Locker means
// this process always reconciles.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Reconciler struct {
	source    Source
	activator Activator
	locker    Locker
	logger    *slog.Logger
	metrics   metrics.Recorder
	interval  time.Duration
	batchSize int

	lockRetry time.Duration
	lockWait  time.Duration
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func New(source Source, activator Activator, locker Locker, logger *slog.Logger, m metrics.Recorder, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Reconciler{
		source:    source,
		activator: activator,
		locker:    locker,
		logger:    logger,
		metrics:   m,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		lockRetry: 5 * time.Second,
		lockWait:  30 * time.Second,
	}
}

// Run blocks until ctx is done. Only the instance holding the lock
// reconciles; the others keep polling for it.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.acquire(ctx) {
		return
	}
	if r.locker != nil {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.locker.Release(releaseCtx); err != nil {
				r.logger.Warn("activation reconcile: release lock failed", "err", err)
			}
		}()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately so a restart heals quickly.
	r.ReconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

func (r *Reconciler) acquire(ctx context.Context) bool {
	if r.locker == nil {
		return ctx.Err() == nil
	}
	for {
		if ctx.Err() != nil {
			return false
		}
		locked, err := r.locker.TryAcquire(ctx)
		switch {
		case err != nil:
			r.logger.Error("activation reconcile: failed to acquire advisory lock", "err", err)
			if !sleep(ctx, r.lockRetry) {
				return false
			}
		case !locked:
			r.logger.Info("activation reconcile: advisory lock held by another instance")
			if !sleep(ctx, r.lockWait) {
				return false
			}
		default:
			r.logger.Info("activation reconcile: advisory lock acquired")
			return true
		}
	}
}

// ReconcileOnce re-applies one batch of unsynchronized activations and
// returns how many businesses were updated.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	pending, err := r.source.ListUnsyncedActivations(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("activation reconcile: failed to list activations", "err", err)
		return 0
	}

	applied := 0
	for _, a := range pending {
		if ctx.Err() != nil {
			return applied
		}
		act, err := r.activator.Activate(ctx, a)
		if err != nil {
			r.metrics.RecordReconcile(outcomeFor(err))
			r.logger.Warn("activation reconcile: apply failed",
				"request_id", a.RequestID, "business_id", a.BusinessID, "plan_id", a.PlanID, "err", err)
			continue
		}
		if act.Changed {
			applied++
			r.metrics.RecordReconcile(metrics.ActivationApplied)
			r.logger.Info("activation reconcile: business repaired",
				"request_id", a.RequestID, "business_id", a.BusinessID, "membership_id", act.MembershipID, "level", act.Level)
		} else {
			r.metrics.RecordReconcile(metrics.ActivationUnchanged)
		}
	}
	return applied
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
		return metrics.ActivationPlanNotFound
	case errors.Is(err, storage.ErrNotFound):
		return metrics.ActivationBusinessNotFound
	default:
		return metrics.ActivationFailed
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
