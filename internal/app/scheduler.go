/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron                 *cron.Cron
	jobs                 *Jobs
	logger               *slog.Logger
	stalePaymentSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, stalePaymentSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:                 c,
		jobs:                 jobs,
		logger:               logger,
		stalePaymentSchedule: stalePaymentSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.stalePaymentSchedule, s.jobs.ReportStalePendingPayments); err != nil {
		s.logger.Error("failed to schedule stale payment report job", "error", err)
		return err
	}
	s.logger.Info("scheduled stale payment report job", "schedule", s.stalePaymentSchedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
