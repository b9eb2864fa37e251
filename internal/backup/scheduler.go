package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers backup runs on a cron schedule, independent of the
// orchestration logic itself.
type Scheduler struct {
	orchestrator *Orchestrator
	logger       zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	started bool
}

func NewScheduler(orchestrator *Orchestrator, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "backup-scheduler").Logger(),
		cron:         cron.New(),
	}
	orchestrator.AttachScheduler(s.NextRun)
	return s
}

// Start registers the schedule and starts the cron loop. Calling Start
// again replaces the previous schedule (idempotent re-registration), so a
// settings change takes effect by restarting the service.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", schedule, err)
	}

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info().Msg("scheduled backup triggered")
		if _, err := s.orchestrator.RunBackup(context.Background()); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				s.logger.Warn().Msg("scheduled backup skipped, previous run still in progress")
				return
			}
			s.logger.Error().Err(err).Msg("scheduled backup failed to start")
		}
	})
	if err != nil {
		return fmt.Errorf("register backup schedule: %w", err)
	}
	s.entryID = entryID

	if !s.started {
		s.cron.Start()
		s.started = true
	}

	s.logger.Info().Str("schedule", schedule).Msg("backup schedule installed")
	return nil
}

// Stop halts the cron loop and waits for an in-flight trigger callback to
// return. The orchestrator finishes any run it already started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info().Msg("backup scheduler stopped")
}

// NextRun returns the next scheduled trigger time, or nil when no
// schedule is installed.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.cron.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}
