// Package scheduler provides cron-based scheduling for the bot's
// recurring work: the daily notification jobs and the hourly dedup
// ledger cleanup.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner with panic recovery per job.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a scheduler using the standard 5-field cron syntax
// (min, hour, dom, month, dow). Jobs are not started until Start.
func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c}
}

// AddJob schedules a task under the given cron expression. It returns
// an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	if err == nil {
		slog.Debug("Scheduler job added", "expr", expr)
	}
	return err
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
