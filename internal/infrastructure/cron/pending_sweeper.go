package cron

import (
	"context"
	"fmt"
	"time"

	"notify-service/internal/domain/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepTimeout = 2 * time.Minute

// PendingSweeper periodically fails notifications left pending by an
// interrupted dispatch
type PendingSweeper struct {
	notificationService service.NotificationService
	cron                *cron.Cron
	schedule            string
	log                 zerolog.Logger
}

// NewPendingSweeper creates a new pending sweeper. schedule accepts any
// robfig/cron spec, including "@every 1m".
func NewPendingSweeper(notificationService service.NotificationService, schedule string, log zerolog.Logger) *PendingSweeper {
	return &PendingSweeper{
		notificationService: notificationService,
		cron:                cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule:            schedule,
		log:                 log,
	}
}

// Start starts the pending sweeper
func (s *PendingSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("pending sweeper started")

	return nil
}

// Stop stops the pending sweeper and waits for a running sweep
func (s *PendingSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("pending sweeper stopped")
}

// Sweep runs one pass
func (s *PendingSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	failed, err := s.notificationService.FailStalePending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to sweep pending notifications")
		return
	}

	if failed > 0 {
		s.log.Warn().Int("failed", failed).Msg("failed stale pending notifications")
	}
}
