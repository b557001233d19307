package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidEntry is returned for a weekday or time that cannot be scheduled.
var ErrInvalidEntry = errors.New("invalid schedule entry")

// Entry is a recurring trigger: weekly on Weekday (0 = Sunday) at Time
// ("HH:MM", 24h), or daily when Weekday is -1.
type Entry struct {
	Weekday int    `json:"weekday"`
	Time    string `json:"time"`
}

// Spec returns the cron expression for e.
func (e Entry) Spec() (string, error) {
	t, err := time.Parse("15:04", e.Time)
	if err != nil || len(e.Time) != 5 {
		return "", fmt.Errorf("%w: time %q", ErrInvalidEntry, e.Time)
	}
	switch {
	case e.Weekday == -1:
		return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
	case e.Weekday >= 0 && e.Weekday <= 6:
		return fmt.Sprintf("%d %d * * %d", t.Minute(), t.Hour(), e.Weekday), nil
	default:
		return "", fmt.Errorf("%w: weekday %d", ErrInvalidEntry, e.Weekday)
	}
}

// ScheduleError reports that the previous trigger did not confirm its
// shutdown in time. The replacement is armed anyway.
type ScheduleError struct {
	Entry Entry
	Err   error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("retire schedule %d@%s: %v", e.Entry.Weekday, e.Entry.Time, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// Scheduler owns at most one armed trigger. Every change retires the
// current trigger (stop, then wait for running jobs) before arming the
// next one. Changes are serialized; when several are queued only the
// latest is applied.
type Scheduler struct {
	shutdownTimeout time.Duration
	logger          cron.Logger
	// stop retires a cron instance; replaced in tests.
	stop func(*cron.Cron) context.Context

	// changeMu serializes retire-then-arm.
	changeMu sync.Mutex

	mu      sync.RWMutex
	seq     uint64
	c       *cron.Cron
	entryID cron.EntryID
	entry   *Entry
	expr    string
}

// New creates a Scheduler with nothing armed.
func New(shutdownTimeout time.Duration) *Scheduler {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Scheduler{
		shutdownTimeout: shutdownTimeout,
		logger:          cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)),
		stop:            (*cron.Cron).Stop,
	}
}

// Arm installs e. If a trigger is already armed it is retired first.
func (s *Scheduler) Arm(e Entry, onFire func()) error {
	return s.Rearm(e, onFire)
}

// Rearm retires the current trigger and arms e. A request superseded by a
// later one while waiting its turn returns nil without arming.
func (s *Scheduler) Rearm(e Entry, onFire func()) error {
	expr, err := e.Spec()
	if err != nil {
		return err
	}
	return s.change(&e, expr, onFire)
}

// Disarm retires the current trigger, if any.
func (s *Scheduler) Disarm() error {
	return s.change(nil, "", nil)
}

func (s *Scheduler) change(e *Entry, expr string, onFire func()) error {
	s.mu.Lock()
	s.seq++
	my := s.seq
	s.mu.Unlock()

	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	s.mu.Lock()
	if my != s.seq {
		s.mu.Unlock()
		slog.Debug("scheduler: change superseded", "cron", expr)
		return nil
	}
	old, oldEntry := s.c, s.entry
	s.c, s.entryID, s.entry, s.expr = nil, 0, nil, ""
	s.mu.Unlock()

	var retireErr error
	if old != nil {
		retireErr = s.retire(old, *oldEntry)
	}
	if e == nil {
		slog.Info("scheduler: disarmed")
		return retireErr
	}

	c := cron.New(
		cron.WithLogger(s.logger),
		cron.WithChain(cron.Recover(s.logger), cron.SkipIfStillRunning(s.logger)),
	)
	entry := *e
	id, err := c.AddFunc(expr, func() {
		slog.Info("scheduler: trigger fired", "cron", expr)
		onFire()
	})
	if err != nil {
		return errors.Join(retireErr, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	c.Start()

	s.mu.Lock()
	s.c, s.entryID, s.entry, s.expr = c, id, &entry, expr
	s.mu.Unlock()
	slog.Info("scheduler: armed", "cron", expr, "weekday", entry.Weekday, "time", entry.Time)
	return retireErr
}

// retire stops c and waits for jobs it started to finish.
func (s *Scheduler) retire(c *cron.Cron, e Entry) error {
	ctx := s.stop(c)
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(s.shutdownTimeout):
		err := &ScheduleError{Entry: e, Err: fmt.Errorf("shutdown not confirmed within %s", s.shutdownTimeout)}
		slog.Warn("scheduler: retire", "error", err)
		return err
	}
}

// Stop retires the armed trigger on shutdown.
func (s *Scheduler) Stop() {
	if err := s.Disarm(); err != nil {
		slog.Warn("scheduler: stop", "error", err)
	}
}

// Armed returns the current entry.
func (s *Scheduler) Armed() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}

// NextRunAt returns the next scheduled time, or nil if nothing is armed.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.c == nil {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression, empty when disarmed.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expr
}
