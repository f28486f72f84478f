package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// SweepInterval is how often the liveness sweeper wakes, within the
// 15-30s band spec.md §5 recommends.
const SweepInterval = 20 * time.Second

// Sweeper wraps gocron to run Registry.Sweep periodically in the
// background, the one background sweeper the concurrency model calls for
// (spec.md §5).
type Sweeper struct {
	cron gocron.Scheduler
	reg  *Registry
	log  *zap.Logger
}

// NewSweeper creates a Sweeper bound to reg. Call Start to begin ticking.
func NewSweeper(reg *Registry, log *zap.Logger) (*Sweeper, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create gocron scheduler: %w", err)
	}
	return &Sweeper{cron: cron, reg: reg, log: log.Named("sweeper")}, nil
}

// Start registers the sweep job and starts the underlying gocron scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(SweepInterval),
		gocron.NewTask(func() {
			if err := s.reg.Sweep(ctx); err != nil {
				s.log.Error("liveness sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("registry: failed to schedule sweep job: %w", err)
	}
	s.cron.Start()
	s.log.Info("liveness sweeper started", zap.Duration("interval", SweepInterval), zap.Duration("window", LivenessWindow))
	return nil
}

// Stop gracefully shuts down the sweeper, waiting for any in-flight sweep to
// finish.
func (s *Sweeper) Stop() error {
	return s.cron.Shutdown()
}
