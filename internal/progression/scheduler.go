package progression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultDecaySchedule runs the decay job daily at 03:00.
const DefaultDecaySchedule = "0 3 * * *"

// Scheduler runs the decay job on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	svc     *Service
	timeout time.Duration
	log     *slog.Logger
}

// NewScheduler registers the decay job. It does not start the scheduler.
func NewScheduler(svc *Service, schedule string, log *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultDecaySchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{log})))

	s := &Scheduler{cron: c, svc: svc, timeout: 10 * time.Minute, log: log}
	if _, err := c.AddFunc(schedule, s.runDecay); err != nil {
		return nil, fmt.Errorf("scheduling decay %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("decay scheduler started", "next", s.cron.Entries()[0].Next)
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runDecay() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.svc.Decay(ctx); err != nil {
		s.log.Error("decay job failed", "error", err)
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
