package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/stickscan/internal/metrics"
	"github.com/eargollo/stickscan/internal/session"
	"github.com/eargollo/stickscan/internal/settings"
)

func TestEntrySpec(t *testing.T) {
	tests := []struct {
		entry   Entry
		want    string
		wantErr bool
	}{
		{Entry{Weekday: -1, Time: "06:00"}, "0 6 * * *", false},
		{Entry{Weekday: 3, Time: "22:00"}, "0 22 * * 3", false},
		{Entry{Weekday: 0, Time: "00:05"}, "5 0 * * 0", false},
		{Entry{Weekday: 6, Time: "23:59"}, "59 23 * * 6", false},
		{Entry{Weekday: 7, Time: "22:00"}, "", true},
		{Entry{Weekday: -2, Time: "22:00"}, "", true},
		{Entry{Weekday: 1, Time: "24:00"}, "", true},
		{Entry{Weekday: 1, Time: "6:00"}, "", true},
		{Entry{Weekday: 1, Time: ""}, "", true},
	}
	for _, tc := range tests {
		got, err := tc.entry.Spec()
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidEntry, "%+v", tc.entry)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		_, err = cron.ParseStandard(got)
		assert.NoError(t, err, got)
	}
}

func entries(s *Scheduler) []cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.c == nil {
		return nil
	}
	return s.c.Entries()
}

// fire runs the armed job the way cron would, through its wrapper chain.
func fire(t *testing.T, s *Scheduler) {
	t.Helper()
	es := entries(s)
	require.Len(t, es, 1)
	es[0].WrappedJob.Run()
}

func TestRearmReplacesTrigger(t *testing.T) {
	s := New(time.Second)
	defer s.Stop()

	var weekly, daily atomic.Int32
	require.NoError(t, s.Arm(Entry{Weekday: 3, Time: "22:00"}, func() { weekly.Add(1) }))
	assert.Equal(t, "0 22 * * 3", s.CronExpr())
	first := s.c

	require.NoError(t, s.Rearm(Entry{Weekday: -1, Time: "06:00"}, func() { daily.Add(1) }))
	assert.Equal(t, "0 6 * * *", s.CronExpr())
	assert.NotSame(t, first, s.c)
	assert.Len(t, entries(s), 1)

	e, ok := s.Armed()
	require.True(t, ok)
	assert.Equal(t, Entry{Weekday: -1, Time: "06:00"}, e)

	fire(t, s)
	assert.Equal(t, int32(0), weekly.Load())
	assert.Equal(t, int32(1), daily.Load())

	next := s.NextRunAt()
	require.NotNil(t, next)
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestInvalidEntryKeepsCurrentTrigger(t *testing.T) {
	s := New(time.Second)
	defer s.Stop()

	require.NoError(t, s.Arm(Entry{Weekday: 1, Time: "10:00"}, func() {}))
	err := s.Rearm(Entry{Weekday: 9, Time: "10:00"}, func() {})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, "0 10 * * 1", s.CronExpr())
}

func TestDisarm(t *testing.T) {
	s := New(time.Second)
	require.NoError(t, s.Arm(Entry{Weekday: -1, Time: "22:00"}, func() {}))
	require.NoError(t, s.Disarm())
	require.NoError(t, s.Disarm())

	_, ok := s.Armed()
	assert.False(t, ok)
	assert.Nil(t, s.NextRunAt())
	assert.Empty(t, s.CronExpr())
}

func TestShutdownTimeoutStillArms(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Stop()
	s.stop = func(c *cron.Cron) context.Context {
		c.Stop()
		return context.Background() // never confirms
	}

	require.NoError(t, s.Arm(Entry{Weekday: 2, Time: "08:00"}, func() {}))
	err := s.Rearm(Entry{Weekday: 4, Time: "09:30"}, func() {})

	var se *ScheduleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Entry{Weekday: 2, Time: "08:00"}, se.Entry)
	assert.Equal(t, "30 9 * * 4", s.CronExpr())
	assert.Len(t, entries(s), 1)

	s.stop = (*cron.Cron).Stop
}

func TestQuickRearmsLeaveOneTrigger(t *testing.T) {
	s := New(time.Second)
	defer s.Stop()
	require.NoError(t, s.Arm(Entry{Weekday: 0, Time: "01:00"}, func() {}))

	// Hold the first retirement open so later requests queue behind it.
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s.stop = func(c *cron.Cron) context.Context {
		once.Do(func() {
			close(entered)
			<-release
		})
		return c.Stop()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Rearm(Entry{Weekday: 1, Time: "02:00"}, func() {}))
	}()
	<-entered

	queued := []Entry{{Weekday: 2, Time: "03:00"}, {Weekday: 3, Time: "04:00"}}
	for i, e := range queued {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			assert.NoError(t, s.Rearm(e, func() {}))
		}(e)
		// Let the request register before the next one.
		require.Eventually(t, func() bool {
			s.mu.RLock()
			defer s.mu.RUnlock()
			return s.seq == uint64(3+i)
		}, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	e, ok := s.Armed()
	require.True(t, ok)
	assert.Equal(t, Entry{Weekday: 3, Time: "04:00"}, e)
	assert.Len(t, entries(s), 1)
}

type fakeStarter struct {
	err   error
	calls atomic.Int32
}

func (f *fakeStarter) StartUpdate(_ context.Context, trigger string) (session.Snapshot, error) {
	f.calls.Add(1)
	if trigger != session.TriggerSchedule {
		return session.Snapshot{}, errors.New("wrong trigger")
	}
	return session.Snapshot{ID: "x"}, f.err
}

func TestUpdateJob(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	ok := &fakeStarter{}
	UpdateJob(ok, m)()
	busy := &fakeStarter{err: session.ErrAlreadyRunning}
	UpdateJob(busy, m)()
	UpdateJob(&fakeStarter{err: session.ErrEngineBusy}, m)()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleFirings.WithLabelValues("started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScheduleFirings.WithLabelValues("skipped")))
}

type memStore struct{ stored string }

func (m *memStore) CreateConfig(_ context.Context, contents string) (json.RawMessage, error) {
	if contents != "" {
		m.stored = contents
	}
	if m.stored == "" {
		m.stored, _ = settings.Defaults().Encode()
	}
	return json.RawMessage(m.stored), nil
}

func TestFollowRearmsOnSettingsChange(t *testing.T) {
	svc := settings.NewService(settings.NewClient(&memStore{}))
	s := New(time.Second)
	defer s.Stop()

	require.NoError(t, s.Follow(svc, func() {}))
	assert.Equal(t, "0 22 * * *", s.CronExpr())

	_, err := svc.Update(context.Background(), func(d *settings.Document) {
		d.DBUpdateWeekday = 5
		d.DBUpdateTime = "07:15"
	})
	require.NoError(t, err)
	assert.Equal(t, "15 7 * * 5", s.CronExpr())

	before := s.c
	_, err = svc.Update(context.Background(), func(d *settings.Document) { d.LoggingIsActive = true })
	require.NoError(t, err)
	assert.Same(t, before, s.c, "unrelated change must not rearm")
}
