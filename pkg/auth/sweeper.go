package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// Sweeper periodically deletes expired tokens
type Sweeper struct {
	cron    *cron.Cron
	service *Service
	logger  *observability.Logger
	timeout time.Duration
}

// NewSweeper schedules token cleanup with a cron spec such as "@hourly" or "*/15 * * * *".
func NewSweeper(service *Service, schedule string, logger *observability.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(),
		service: service,
		logger:  logger,
		timeout: time.Minute,
	}

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("failed to schedule token sweeper %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to expire
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.service.SweepExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("token sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("deleted", n).Info("expired tokens swept")
	}
}
