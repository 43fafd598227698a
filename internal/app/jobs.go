/**
 * @description
 * Scheduled job implementations for the alumni-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alumniaid/alumni-service/internal/config"
)

// PendingReconciler resolves payments whose provider callback never arrived.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	reconciler PendingReconciler
	logger     *slog.Logger
	config     config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(reconciler PendingReconciler, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		reconciler: reconciler,
		logger:     logger,
		config:     cfg,
	}
}

// ReconcilePendingPayments polls MoMo for stale PENDING payments.
func (j *Jobs) ReconcilePendingPayments() {
	j.logger.Info("starting pending payment reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resolved, err := j.reconciler.ReconcilePending(ctx, j.config.PendingPaymentMinAge(), j.config.PendingPaymentBatchSize)
	if err != nil {
		j.logger.Error("pending payment reconciliation finished with errors", "resolved", resolved, "error", err)
		return
	}
	j.logger.Info("finished pending payment reconciliation job", "resolved", resolved)
}
