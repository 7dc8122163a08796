package worker

import (
	"context"
	"time"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

type pendingRefresher interface {
	RefreshPending(ctx context.Context, limit int) (int, error)
}

type pendingReaper interface {
	ReapStalePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ReconcilerConfig controls the periodic sweeps
type ReconcilerConfig struct {
	PollInterval time.Duration
	PollBatch    int
	ReapInterval time.Duration
	PendingTTL   time.Duration
}

// Reconciler polls accounts stuck in onboarding and fails pending
// transactions whose sessions have expired
type Reconciler struct {
	accounts pendingRefresher
	reaper   pendingReaper
	cfg      ReconcilerConfig
	logger   *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(accounts pendingRefresher, reaper pendingReaper, cfg ReconcilerConfig) *Reconciler {
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 100
	}
	return &Reconciler{
		accounts: accounts,
		reaper:   reaper,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled. A zero interval disables that sweep.
func (r *Reconciler) Run(ctx context.Context) error {
	var pollC, reapC <-chan time.Time

	if r.cfg.PollInterval > 0 {
		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}
	if r.cfg.ReapInterval > 0 && r.cfg.PendingTTL > 0 {
		ticker := time.NewTicker(r.cfg.ReapInterval)
		defer ticker.Stop()
		reapC = ticker.C
	}

	r.logger.Info("Starting reconciler",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Duration("reap_interval", r.cfg.ReapInterval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping reconciler")
			return nil
		case <-pollC:
			r.pollAccounts(ctx)
		case <-reapC:
			r.reapPending(ctx)
		}
	}
}

func (r *Reconciler) pollAccounts(ctx context.Context) {
	n, err := r.accounts.RefreshPending(ctx, r.cfg.PollBatch)
	if err != nil {
		r.logger.Warn("Account poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Refreshed onboarding accounts", zap.Int("count", n))
	}
}

func (r *Reconciler) reapPending(ctx context.Context) {
	if _, err := r.reaper.ReapStalePending(ctx, r.cfg.PendingTTL); err != nil {
		r.logger.Warn("Pending transaction sweep failed", zap.Error(err))
	}
}
