// Package retention archives terminal runs after a configurable window so
// the run store does not grow without bound.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenza-io/cadenza/pkg/persistence"
)

const (
	DefaultSchedule = "0 * * * *"
	DefaultWindow   = 7 * 24 * time.Hour
)

// Sweeper periodically stamps terminal runs older than the retention
// window as archived. Archived runs stay readable; removal is left to
// external storage cleanup.
type Sweeper struct {
	Schedule string
	Window   time.Duration

	store  persistence.Persistence
	cron   *cron.Cron
	logger *slog.Logger
}

func NewSweeper(store persistence.Persistence, schedule string, window time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if window <= 0 {
		window = DefaultWindow
	}

	if store == nil {
		return nil, errors.New("retention sweeper requires a persistence store")
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule: %w", err)
	}

	return &Sweeper{
		Schedule: schedule,
		Window:   window,
		store:    store,
		logger: logger.With(
			"module", "retention",
			"schedule", schedule,
			"window", window.String(),
		),
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting retention sweeper")

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping retention sweeper")

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	return nil
}

// Sweep archives every terminal, unarchived run whose FinishedAt is older
// than the window. Returns the number of runs archived.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	runs, err := s.store.Runs().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs for retention: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.Window)
	archived := 0

	for _, run := range runs {
		if !run.Status.Terminal() || run.ArchivedAt != nil {
			continue
		}

		if run.FinishedAt == nil || run.FinishedAt.After(cutoff) {
			continue
		}

		if err := s.store.Runs().Archive(ctx, run.ID, time.Now().UTC()); err != nil {
			s.logger.ErrorContext(ctx, "Failed to archive run", "run_id", run.ID, "error", err)

			continue
		}

		archived++
	}

	if archived > 0 {
		s.logger.InfoContext(ctx, "Retention sweep archived runs", "count", archived)
	}

	return archived, nil
}
