/**
 * @description
 * Scheduled job implementations for the core service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
)

const stalePaymentBatchSize = 200

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     store.Repository
	events   *EventPublisher
	logger   *slog.Logger
	staleAge time.Duration
	now      func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, events *EventPublisher, logger *slog.Logger, staleAge time.Duration) *Jobs {
	if staleAge <= 0 {
		staleAge = time.Hour
	}
	return &Jobs{
		repo:     repo,
		events:   events,
		logger:   logger,
		staleAge: staleAge,
		now:      time.Now,
	}
}

// ReportStalePendingPayments publishes one event per payment left pending past the
// configured age. Statuses are never changed here; confirmation stays with the
// webhook and user-verification paths.
func (j *Jobs) ReportStalePendingPayments() {
	j.logger.Info("starting stale pending payment report job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.staleAge)
	payments, err := j.repo.ListStalePendingPayments(ctx, cutoff, stalePaymentBatchSize)
	if err != nil {
		j.logger.Error("failed to list stale pending payments", "error", err)
		return
	}

	for i := range payments {
		txn := payments[i]
		j.events.Publish(ctx, domain.EventPaymentPendingStale, domain.PaymentEvent{
			PaymentID:  txn.PaymentID,
			CampaignID: txn.CampaignID,
			UserID:     txn.UserID,
			Amount:     txn.Amount,
			Gateway:    txn.Gateway,
			Status:     txn.Status,
			Timestamp:  j.now().UTC(),
		})
	}

	j.logger.Info("stale pending payment report job finished", "count", len(payments), "cutoff", cutoff.UTC())
}
