package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/robfig/cron/v3"
)

// SchedulerConfig sets the periodic jobs' timing.
type SchedulerConfig struct {
	// DailyChallengeSpec is a standard five-field cron spec.
	DailyChallengeSpec   string
	RedispatchSpec       string
	StuckReportSpec      string
	PendingRedispatchAge time.Duration
	StuckAfter           time.Duration
	Location             *time.Location
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DailyChallengeSpec:   "5 0 * * *",
		RedispatchSpec:       "@every 1m",
		StuckReportSpec:      "@every 5m",
		PendingRedispatchAge: time.Minute,
		StuckAfter:           15 * time.Minute,
		Location:             time.UTC,
	}
}

type dailyChallengeGenerator interface {
	GenerateDailyChallenges(ctx context.Context) (int, error)
}

type withdrawalMaintainer interface {
	RedispatchPending(ctx context.Context, olderThan time.Duration) (int, error)
	ListStuckWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]domain.Withdrawal, error)
}

type stuckSessionLister interface {
	ListStuckSessions(ctx context.Context, cutoff time.Time, limit int) ([]domain.CollectionSession, error)
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron        *cron.Cron
	cfg         SchedulerConfig
	challenges  dailyChallengeGenerator
	withdrawals withdrawalMaintainer
	sessions    stuckSessionLister
	logger      *slog.Logger
	now         func() time.Time
}

type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Printf(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// NewScheduler registers the jobs. Start must be called to run them.
func NewScheduler(cfg SchedulerConfig, challenges dailyChallengeGenerator, withdrawals withdrawalMaintainer, sessions stuckSessionLister, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger = logger.With("component", "scheduler")
	s := &Scheduler{
		cfg:         cfg,
		challenges:  challenges,
		withdrawals: withdrawals,
		sessions:    sessions,
		logger:      logger,
		now:         time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(cronLogger{logger})),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		),
	)

	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{cfg.DailyChallengeSpec, "daily_challenges", s.GenerateDailyChallenges},
		{cfg.RedispatchSpec, "withdrawal_redispatch", s.RedispatchWithdrawals},
		{cfg.StuckReportSpec, "stuck_report", s.ReportStuck},
	}
	for _, job := range jobs {
		job := job
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			job.run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) GenerateDailyChallenges(ctx context.Context) {
	created, err := s.challenges.GenerateDailyChallenges(ctx)
	if err != nil {
		s.logger.Error("daily challenge generation failed", "error", err)
		return
	}
	s.logger.Info("daily challenges generated", "created", created)
}

func (s *Scheduler) RedispatchWithdrawals(ctx context.Context) {
	n, err := s.withdrawals.RedispatchPending(ctx, s.cfg.PendingRedispatchAge)
	if err != nil {
		s.logger.Error("withdrawal redispatch failed", "dispatched", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("re-dispatched pending withdrawals", "count", n)
	}
}

// ReportStuck logs sessions and withdrawals stuck in processing. They are
// never moved automatically.
func (s *Scheduler) ReportStuck(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StuckAfter)

	sessions, err := s.sessions.ListStuckSessions(ctx, cutoff, 100)
	if err != nil {
		s.logger.Error("failed to list stuck sessions", "error", err)
	}
	for _, session := range sessions {
		s.logger.Warn("session stuck in processing", "session_id", session.ID, "user_id", session.UserID, "updated_at", session.UpdatedAt)
	}

	withdrawals, err := s.withdrawals.ListStuckWithdrawals(ctx, cutoff, 100)
	if err != nil {
		s.logger.Error("failed to list stuck withdrawals", "error", err)
	}
	for _, w := range withdrawals {
		s.logger.Warn("withdrawal stuck in processing", "withdrawal_id", w.ID, "user_id", w.UserID, "amount", w.Amount, "processed_at", w.ProcessedAt)
	}
}
