/**
 * @description
 * Cron scheduler setup for the three ticks: minutely expense polling, the
 * daily stats pipeline, and the weekly rollup.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/sellerpulse/stats-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ExpensePollSchedule, s.jobs.PollExpenses); err != nil {
		s.logger.Error("failed to schedule expense poll", "error", err)
	} else {
		s.logger.Info("scheduled expense poll", "schedule", s.config.ExpensePollSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.DailyJobSchedule, s.jobs.RunDailyPipeline); err != nil {
		s.logger.Error("failed to schedule daily pipeline", "error", err)
	} else {
		s.logger.Info("scheduled daily pipeline", "schedule", s.config.DailyJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.WeeklyJobSchedule, s.jobs.RunWeeklyJobs); err != nil {
		s.logger.Error("failed to schedule weekly jobs", "error", err)
	} else {
		s.logger.Info("scheduled weekly jobs", "schedule", s.config.WeeklyJobSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
