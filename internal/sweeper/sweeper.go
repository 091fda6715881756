// Package sweeper recovers jobs orphaned by lost workers. Delivery is
// at-most-once, so a worker that dies mid-job leaves it parked in
// processing; the sweeper fails such jobs after a threshold so clients stop
// waiting on them.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
)

const (
	// DefaultThreshold is how long a job may sit in processing before it is
	// presumed lost. Generation retries can legitimately take minutes.
	DefaultThreshold = 30 * time.Minute

	DefaultSchedule = "@every 5m"

	stalledMessage = "evaluation stalled in processing; worker presumed lost"
)

type sweeperStore interface {
	StuckProcessingJobs(ctx context.Context, olderThan time.Time) ([]*evaluation.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status evaluation.Status, result *evaluation.Result, errorMessage string) error
}

// Sweeper periodically fails stuck jobs.
type Sweeper struct {
	store     sweeperStore
	threshold time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
}

func New(store sweeperStore, threshold time.Duration, logger *zap.Logger) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		threshold: threshold,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules sweeps on the given cron expression and runs them until
// Stop is called.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if swept, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		} else if swept > 0 {
			s.logger.Info("swept stalled jobs", zap.Int("count", swept))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started",
		zap.String("schedule", schedule),
		zap.Duration("threshold", s.threshold),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep fails every job stuck in processing past the threshold and returns
// how many it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.threshold)

	jobs, err := s.store.StuckProcessingJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stuck jobs: %w", err)
	}

	swept := 0
	for _, job := range jobs {
		if err := s.store.UpdateJobStatus(ctx, job.ID, evaluation.StatusFailed, nil, stalledMessage); err != nil {
			// Another worker may have finished the job between the listing
			// and this update.
			s.logger.Warn("could not fail stalled job", zap.Int64("job_id", job.ID), zap.Error(err))
			continue
		}
		s.logger.Warn("failed stalled job",
			zap.Int64("job_id", job.ID),
			zap.Time("last_update", job.UpdatedAt),
		)
		swept++
	}

	return swept, nil
}
