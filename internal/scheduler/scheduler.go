package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/config"
	"github.com/mamadbah2/fieldops/internal/service/reporting"
)

// Notifier delivers a text summary to the supervisor.
type Notifier interface {
	Send(ctx context.Context, body string)
}

// Summarizer builds the pending-queue summary.
type Summarizer interface {
	PendingSummary(ctx context.Context) (*reporting.Summary, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	reports  Summarizer
	notifier Notifier
	logger   *zap.Logger
}

// NewScheduler creates a scheduler running in the configured timezone. A
// nil notifier means summaries are only logged.
func NewScheduler(cfg config.ReportingConfig, reports Summarizer, notifier Notifier, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		spec:     cfg.CronSchedule,
		reports:  reports,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.SendPendingSummary); err != nil {
		return fmt.Errorf("schedule pending summary %q: %w", s.spec, err)
	}

	s.logger.Info("starting scheduler", zap.String("pending_summary", s.spec))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// SendPendingSummary builds the summary and delivers it.
func (s *Scheduler) SendPendingSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sum, err := s.reports.PendingSummary(ctx)
	if err != nil {
		s.logger.Error("failed to build pending summary", zap.Error(err))
		return
	}

	s.logger.Info("pending summary",
		zap.Int("total_pending", sum.TotalPending),
		zap.Any("pending", sum.Pending))

	if s.notifier != nil {
		s.notifier.Send(ctx, sum.Format())
	}
}
