package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mdobak/go-xerrors"

	"findmyway/locator"
	"findmyway/utils"
)

// Retrainer rebuilds the served model.
type Retrainer interface {
	Retrain(ctx context.Context) (*locator.Model, error)
}

// Scheduler periodically retrains the model from the stored survey.
type Scheduler struct {
	scheduler *gocron.Scheduler
	trainer   Retrainer
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. A zero interval disables retraining.
func New(interval time.Duration, trainer Retrainer) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		trainer:   trainer,
		interval:  interval,
		timeout:   5 * time.Minute,
		logger:    utils.GetLogger(),
	}
}

// Start schedules the retraining job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduler: retraining disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler: retraining enabled", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	model, err := s.trainer.Retrain(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler: retrain failed", slog.Any("error", xerrors.New(err)))
		return
	}
	s.logger.InfoContext(ctx, "scheduler: retrain completed", slog.String("generation", model.Generation()))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
