package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/logging"
	"github.com/alexjbarnes/pantry-sync/internal/repository"
)

// ContextFunc builds the SyncContext for the next cycle.
type ContextFunc func(ctx context.Context) (SyncContext, error)

// Scheduler runs sync cycles every syncInterval and on request. Automatic
// cycles are skipped while offline mode is on; requested ones always run.
type Scheduler struct {
	coord    *Coordinator
	settings *repository.SettingsRepository
	context  ContextFunc
	logger   *slog.Logger
	trigger  chan struct{}

	// OnCycle, when set, receives the outcome of every cycle run.
	OnCycle func(*Report, error)
}

// NewScheduler returns a Scheduler for coord. The interval and offline
// mode are read from settings before every wait.
func NewScheduler(coord *Coordinator, contextFn ContextFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		coord:    coord,
		settings: coord.Repositories().Settings,
		context:  contextFn,
		logger:   logging.Component(logger, "scheduler"),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a cycle as soon as possible. It does not block;
// requests made while one is pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run schedules cycles until ctx is done and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		interval, err := s.settings.SyncInterval()
		if err != nil {
			s.logger.Warn("reading sync interval", slog.String("error", err.Error()))
		}

		timer := time.NewTimer(interval)
		requested := false

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()

			requested = true
		case <-timer.C:
		}

		s.runOnce(ctx, requested)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, requested bool) {
	if !requested {
		offline, err := s.settings.OfflineMode()
		if err != nil {
			s.logger.Warn("reading offline mode", slog.String("error", err.Error()))
		}

		if offline {
			s.logger.Debug("offline mode, skipping scheduled sync")
			return
		}
	}

	sc, err := s.context(ctx)
	if err != nil {
		s.logger.Warn("preparing sync", slog.String("error", err.Error()))
		s.report(nil, err)

		return
	}

	rep, err := s.coord.RunSyncCycle(ctx, sc)
	if err != nil {
		s.logger.Warn("sync cycle failed", slog.String("error", err.Error()))
	}

	s.report(rep, err)
}

func (s *Scheduler) report(rep *Report, err error) {
	if s.OnCycle != nil {
		s.OnCycle(rep, err)
	}
}
