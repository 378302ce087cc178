package scheduler

import (
	"context"
	"time"

	"booking-service/config"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the booking lifecycle sweeps: activating approved
// bookings whose rental period has started and completing active
// bookings whose period has elapsed.
type Scheduler struct {
	cron     *cron.Cron
	bookings *service.BookingService
	logger   *zap.Logger
}

// NewScheduler creates a scheduler with UTC timezone and seconds
// precision, matching the cron expressions in SweepConfig.
func NewScheduler(bookings *service.BookingService, cfg config.SweepConfig) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron:     c,
		bookings: bookings,
		logger:   util.GetLogger(),
	}

	if _, err := c.AddFunc(cfg.ActivateSpec, s.activateDue); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(cfg.CompleteSpec, s.completeElapsed); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) activateDue() {
	util.SweepRunsTotal.WithLabelValues("activate").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.bookings.ActivateDue(ctx)
	if err != nil {
		s.logger.Error("Activation sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("Activation sweep finished", zap.Int("activated", n))
}

func (s *Scheduler) completeElapsed() {
	util.SweepRunsTotal.WithLabelValues("complete").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.bookings.CompleteElapsed(ctx)
	if err != nil {
		s.logger.Error("Completion sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("Completion sweep finished", zap.Int("completed", n))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting sweep scheduler")
	s.cron.Start()
}

// Stop gracefully stops the scheduler, waiting for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep scheduler stopped")
}
