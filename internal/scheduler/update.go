package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eargollo/stickscan/internal/metrics"
	"github.com/eargollo/stickscan/internal/session"
	"github.com/eargollo/stickscan/internal/settings"
)

// UpdateStarter starts a database update session.
type UpdateStarter interface {
	StartUpdate(ctx context.Context, trigger string) (session.Snapshot, error)
}

// UpdateJob returns the function a trigger runs: start a scheduled update,
// or skip the firing when a session is already running.
func UpdateJob(starter UpdateStarter, m *metrics.Metrics) func() {
	return func() {
		snap, err := starter.StartUpdate(context.Background(), session.TriggerSchedule)
		switch {
		case errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrEngineBusy):
			m.ScheduleFired("skipped")
			slog.Info("scheduler: update skipped, a session is running")
		case err != nil:
			m.ScheduleFired("failed")
			slog.Warn("scheduler: start update", "error", err)
		default:
			m.ScheduleFired("started")
			slog.Info("scheduler: update started", "session", snap.ID)
		}
	}
}

// EntryFromSettings reads the update schedule out of the settings document.
func EntryFromSettings(d settings.Document) Entry {
	return Entry{Weekday: d.DBUpdateWeekday, Time: d.DBUpdateTime}
}

// Follow arms the schedule stored in svc and rearms it whenever the user
// changes the weekday or time.
func (s *Scheduler) Follow(svc *settings.Service, onFire func()) error {
	svc.OnChange(func(prev, next settings.Document) {
		if EntryFromSettings(prev) == EntryFromSettings(next) {
			return
		}
		if err := s.Rearm(EntryFromSettings(next), onFire); err != nil {
			slog.Warn("scheduler: rearm after settings change", "error", err)
		}
	})
	return s.Arm(EntryFromSettings(svc.Get()), onFire)
}
