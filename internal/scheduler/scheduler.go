// Package scheduler triggers summary runs for recently active users on a
// cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/services"
)

// Runner runs one summary attempt for a user.
type Runner interface {
	Run(ctx context.Context, userID string) (*services.SummaryResult, error)
}

// UserLister finds users with recent turns.
type UserLister interface {
	ListRecentUsers(ctx context.Context, since time.Time) ([]string, error)
}

// Report tallies one sweep over the active users.
type Report struct {
	Users   int
	Created int
	Skipped int
	Failed  int
}

// Scheduler manages the periodic summary sweep
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	runner Runner
	users  UserLister
	cfg    config.SummaryConfig
	logger logrus.FieldLogger
	now    func() time.Time
}

// New creates a scheduler. Nothing runs until Start.
func New(runner Runner, users UserLister, cfg config.SummaryConfig, logger logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(logger)

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
		runner: runner,
		users:  users,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers the sweep on the configured schedule and starts the cron loop
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		report, err := s.RunOnce(s.ctx)
		if err != nil {
			s.logger.WithError(err).Error("Summary sweep failed")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"users":   report.Users,
			"created": report.Created,
			"skipped": report.Skipped,
			"failed":  report.Failed,
		}).Info("Summary sweep finished")
	})
	if err != nil {
		return fmt.Errorf("invalid summary schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.cfg.Schedule).Info("Summary scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.logger.Info("Summary scheduler stopped")
}

// RunOnce runs the summary check for every user active within the lookback
// period. Users are processed in parallel up to the configured limit and one
// user's failure does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	lookback := s.cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	users, err := s.users.ListRecentUsers(ctx, s.now().UTC().Add(-lookback))
	if err != nil {
		return Report{}, fmt.Errorf("failed to list active users: %w", err)
	}

	report := Report{Users: len(users)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Parallelism > 0 {
		g.SetLimit(s.cfg.Parallelism)
	}
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			res, err := s.runner.Run(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				s.logger.WithError(err).WithField("user_id", userID).Warn("Summary run failed")
			case res.Outcome == models.SummaryCreated:
				report.Created++
			default:
				report.Skipped++
			}
			// Failures are counted, not propagated, so one user cannot
			// cancel the rest of the sweep.
			return nil
		})
	}
	_ = g.Wait()

	return report, ctx.Err()
}
