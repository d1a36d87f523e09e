package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Trigger starts a publication pass, either in process or through the queue.
type Trigger func(ctx context.Context) error

// RunTrigger returns a Trigger that runs the pass in the calling goroutine.
func RunTrigger(job *ScheduledPublicationJob) Trigger {
	return func(ctx context.Context) error {
		_, err := job.Run(ctx)
		return err
	}
}

// Scheduler fires a Trigger on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	trigger Trigger
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler returns a scheduler whose runs are bounded by timeout.
func NewScheduler(spec string, trigger Trigger, timeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		spec:    spec,
		trigger: trigger,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *Scheduler) Start() error {
	if err := s.cron.AddFunc(s.spec, s.fire); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("publication scheduler started", zap.String("spec", s.spec))
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.trigger(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPassInProgress):
		s.logger.Debug("skipping tick, pass already running")
	default:
		s.logger.Error("scheduled publication pass failed", zap.Error(err))
	}
}
