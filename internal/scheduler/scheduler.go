package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fabricsync/internal"
	"fabricsync/internal/config"
	"fabricsync/internal/pipeline"
)

// Runner triggers supplier runs. *pipeline.RunService implements it.
type Runner interface {
	RunAll(ctx context.Context, suppliers []config.Supplier, opts pipeline.RunOptions) []pipeline.RunOutcome
}

// StatusSource reports when each supplier was last touched by a run.
type StatusSource interface {
	ListSuppliers(ctx context.Context) ([]internal.SupplierRow, error)
}

type Service struct {
	runner    Runner
	status    StatusSource
	suppliers []config.Supplier
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time

	seeded bool
	last   map[string]time.Time
}

func NewService(runner Runner, status StatusSource, suppliers []config.Supplier, cfg config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		runner:    runner,
		status:    status,
		suppliers: suppliers,
		interval:  interval,
		log:       log,
		now:       time.Now,
		last:      map[string]time.Time{},
	}
}

// Run ticks until ctx is cancelled. Cycle errors are logged and the loop goes on.
func (s *Service) Run(ctx context.Context) error {
	for {
		if _, err := s.runCycle(ctx); err != nil {
			s.log.Error("scheduler cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval):
		}
	}
}

// runCycle triggers every due supplier once and returns how many were started.
func (s *Service) runCycle(ctx context.Context) (int, error) {
	if !s.seeded {
		if err := s.seed(ctx); err != nil {
			return 0, err
		}
		s.seeded = true
	}

	now := s.now()
	var due []config.Supplier
	for _, sup := range s.suppliers {
		if Due(sup, s.last[sup.Key], now) {
			due = append(due, sup)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	failed := 0
	for _, out := range s.runner.RunAll(ctx, due, pipeline.RunOptions{}) {
		if errors.Is(out.Err, internal.ErrRunInProgress) {
			continue
		}
		s.last[out.Supplier] = now
		if out.Err != nil {
			failed++
		}
	}
	s.log.Info("scheduler cycle done", "due", len(due), "failed", failed)
	return len(due), nil
}

// seed picks up last run times from storage so a restart does not re-run
// every supplier at once.
func (s *Service) seed(ctx context.Context) error {
	if s.status == nil {
		return nil
	}
	rows, err := s.status.ListSuppliers(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !row.Status.LastUpdatedAt.IsZero() {
			s.last[row.Key] = row.Status.LastUpdatedAt
		}
	}
	return nil
}

// Due reports whether sup should run at now. Suppliers without a schedule
// only run on demand.
func Due(sup config.Supplier, last, now time.Time) bool {
	if sup.ScheduleMinutes <= 0 {
		return false
	}
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(time.Duration(sup.ScheduleMinutes) * time.Minute))
}
