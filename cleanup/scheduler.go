package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs cleanup on a cron schedule.
type Scheduler struct {
	target   Target
	schedule string
	optFns   []func(o *Options)
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	last    Result
	lastErr error
}

// NewScheduler returns a scheduler for target. schedule is a cron
// expression with an optional seconds field, or a descriptor such as
// "@daily" or "@every 1h".
func NewScheduler(target Target, schedule string, logger *slog.Logger, optFns ...func(o *Options)) (*Scheduler, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("cleanup: invalid schedule %q: %w", schedule, err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		target:   target,
		schedule: schedule,
		optFns:   optFns,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser)),
	}, nil
}

// Start begins scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("cleanup: scheduler is already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		_, _ = s.RunNow(context.Background())
	}); err != nil {
		return fmt.Errorf("cleanup: schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("cleanup scheduler started", "schedule", s.schedule)

	return nil
}

// Stop stops scheduling and waits up to timeout for a running cleanup.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	s.running = false

	for _, e := range s.cron.Entries() {
		s.cron.Remove(e.ID)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("cleanup scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn("cleanup scheduler stop timed out")
	}
}

// RunNow runs one cleanup and records its result.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := Run(ctx, s.target, s.optFns...)

	s.mu.Lock()
	s.last, s.lastErr = res, err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cleanup failed", "error", err, "deleted", res.Deleted)
		return res, err
	}

	s.logger.Info("cleanup finished",
		"total", res.Total,
		"selected", len(res.Selected),
		"deleted", res.Deleted,
		"dry_run", res.DryRun,
		"duration", time.Since(start))

	return res, nil
}

// Last returns the result of the most recent run.
func (s *Scheduler) Last() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last, s.lastErr
}
