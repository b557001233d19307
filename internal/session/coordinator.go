package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/eargollo/stickscan/internal/engine"
	"github.com/eargollo/stickscan/internal/event"
	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/metrics"
	"github.com/eargollo/stickscan/internal/settings"
)

var (
	// ErrAlreadyRunning is returned when a session is started while one is running.
	ErrAlreadyRunning = errors.New("a session is already running")
	// ErrEmptyPath is returned for a scan request without a path.
	ErrEmptyPath = errors.New("scan path is required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
	// ErrEngineBusy is returned when the engine has not yet answered the
	// command of an earlier session that already ended.
	ErrEngineBusy = errors.New("engine is still finishing the previous command")
)

// ProgressStreamError is an error pushed on the progress-error channel.
type ProgressStreamError struct {
	Message string
}

func (e *ProgressStreamError) Error() string { return "progress stream: " + e.Message }

// Triggers recorded with each session.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// Gateway is the subset of the engine gateway the coordinator drives.
type Gateway interface {
	StartScanner(ctx context.Context, req engine.ScanRequest) (engine.ScanResult, error)
	UpdateDatabase(ctx context.Context, dbfile string) (int64, error)
	Busy(cmd engine.Command) bool
}

// Recorder keeps session history.
type Recorder interface {
	Begin(ctx context.Context, s history.Session) error
	Finish(ctx context.Context, id string, f history.Finish) error
}

// SettingsRecorder stores the result of a database update.
type SettingsRecorder interface {
	RecordUpdate(ctx context.Context, hashes int64, at time.Time) (settings.Document, error)
}

// Request describes a scan to run.
type Request struct {
	Path       string `json:"path"`
	Update     bool   `json:"update"`
	DBFile     string `json:"dbfile,omitempty"`
	Obfuscated bool   `json:"obfuscated"`
	Trigger    string `json:"-"`
}

// Options wires a Coordinator. Gateway and Events are required.
type Options struct {
	Gateway   Gateway
	Events    event.Source
	Navigator Navigator
	Observer  ProgressObserver
	Recorder  Recorder
	Settings  SettingsRecorder
	Metrics   *metrics.Metrics
	// DBFile is used when a request does not name a database file.
	DBFile string
}

// Snapshot describes a session at a point in time.
type Snapshot struct {
	ID        string          `json:"id"`
	Kind      history.Kind    `json:"kind"`
	Trigger   string          `json:"trigger"`
	Path      string          `json:"path,omitempty"`
	State     State           `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	Progress  Progress        `json:"progress"`
	Done      <-chan struct{} `json:"-"`
}

// Coordinator runs at most one scan or update session at a time and turns
// the command result and the event stream into a single navigation.
// It is safe for concurrent use.
type Coordinator struct {
	opts Options

	// navMu orders navigations: a session's loading view always precedes
	// its terminal view. Taken before mu.
	navMu sync.Mutex

	mu      sync.Mutex
	active  *run
	current Navigation
	closed  bool
}

func New(opts Options) *Coordinator {
	if opts.Navigator == nil {
		opts.Navigator = NavigatorFunc(func(Navigation) {})
	}
	return &Coordinator{opts: opts, current: Navigation{View: ViewEntry}}
}

// StartScan begins a scan. The request is issued asynchronously; the
// outcome arrives as a navigation.
func (c *Coordinator) StartScan(ctx context.Context, req Request) (Snapshot, error) {
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		return Snapshot{}, ErrEmptyPath
	}
	if req.DBFile == "" {
		req.DBFile = c.opts.DBFile
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	return c.start(ctx, history.KindScan, req)
}

// StartUpdate begins a signature database update.
func (c *Coordinator) StartUpdate(ctx context.Context, trigger string) (Snapshot, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	return c.start(ctx, history.KindUpdate, Request{DBFile: c.opts.DBFile, Trigger: trigger})
}

func (c *Coordinator) start(ctx context.Context, kind history.Kind, req Request) (Snapshot, error) {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	r, err := c.begin(ctx, kind, req)
	if err != nil {
		return Snapshot{}, err
	}

	loading := Navigation{View: ViewLoading, SessionID: r.id, Kind: kind, Path: req.Path}
	c.mu.Lock()
	c.current = loading
	c.mu.Unlock()
	c.opts.Navigator.Navigate(loading)

	// The engine command is not cancelled with the caller's context: it
	// runs to completion and a result nobody waits for is discarded.
	go r.execute(context.WithoutCancel(ctx))

	return r.snapshot(), nil
}

// begin registers a new run as active with its channels armed.
func (c *Coordinator) begin(ctx context.Context, kind history.Kind, req Request) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.active != nil {
		return nil, ErrAlreadyRunning
	}
	if c.opts.Gateway.Busy(commandFor(kind)) {
		return nil, ErrEngineBusy
	}

	r := &run{
		c:       c,
		id:      uuid.NewString(),
		kind:    kind,
		req:     req,
		started: time.Now().UTC(),
		state:   StateRunning,
		subs:    event.NewSubscriptions(c.opts.Events),
		done:    make(chan struct{}),
		logger:  &rate.Sometimes{First: 1, Interval: 2 * time.Second},
	}

	// Both channels are armed before the command goes out so no event is missed.
	if err := r.subs.Subscribe(event.Progress, r.onProgress); err != nil {
		r.subs.Close() //nolint:errcheck
		return nil, fmt.Errorf("arm progress: %w", err)
	}
	if err := r.subs.Subscribe(event.ProgressError, r.onProgressError); err != nil {
		r.subs.Close() //nolint:errcheck
		return nil, fmt.Errorf("arm progress-error: %w", err)
	}

	if c.opts.Recorder != nil {
		err := c.opts.Recorder.Begin(ctx, history.Session{
			ID: r.id, Kind: kind, Trigger: req.Trigger, Path: req.Path,
			UpdateFirst: req.Update, Obfuscated: req.Obfuscated, StartedAt: r.started,
		})
		if err != nil {
			r.subs.Close() //nolint:errcheck
			return nil, fmt.Errorf("record session: %w", err)
		}
	}

	c.active = r
	c.opts.Metrics.SessionStarted(string(kind), req.Trigger)
	slog.Info("session started", "id", r.id, "kind", kind, "trigger", req.Trigger, "path", req.Path, "update", req.Update)
	return r, nil
}

// Active returns the running session, or nil when idle.
func (c *Coordinator) Active() *Snapshot {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	s := r.snapshot()
	return &s
}

// Current returns the last navigation issued.
func (c *Coordinator) Current() Navigation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Navigate records and forwards a view change the user asked for, such as
// opening the settings view. It is ignored while a session is running.
func (c *Coordinator) Navigate(n Navigation) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return
	}
	c.current = n
	c.mu.Unlock()
	c.opts.Navigator.Navigate(n)
}

// Close tears down the running session's subscriptions and refuses new
// sessions. The in-flight engine command is left to finish; its result is
// discarded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	r := c.active
	c.mu.Unlock()
	if r != nil {
		r.abandon()
	}
}

// commandFor returns the engine command a session of kind issues.
func commandFor(kind history.Kind) engine.Command {
	if kind == history.KindUpdate {
		return engine.UpdateDatabase
	}
	return engine.StartScanner
}

// run is one session.
type run struct {
	c       *Coordinator
	id      string
	kind    history.Kind
	req     Request
	started time.Time
	subs    *event.Subscriptions
	done    chan struct{}
	logger  *rate.Sometimes

	mu       sync.Mutex
	state    State
	progress Progress
}

func (r *run) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID: r.id, Kind: r.kind, Trigger: r.req.Trigger, Path: r.req.Path,
		State: r.state, StartedAt: r.started, Progress: r.progress, Done: r.done,
	}
}

func (r *run) execute(ctx context.Context) {
	switch r.kind {
	case history.KindUpdate:
		count, err := r.c.opts.Gateway.UpdateDatabase(ctx, r.req.DBFile)
		if err != nil {
			r.finish("result", outcome{state: StateFailed, err: err})
			return
		}
		r.finish("result", outcome{state: StateUpdated, hashCount: count})
	default:
		res, err := r.c.opts.Gateway.StartScanner(ctx, engine.ScanRequest{
			Path: r.req.Path, Update: r.req.Update, DBFile: r.req.DBFile, Obfuscated: r.req.Obfuscated,
		})
		switch {
		case err != nil:
			r.finish("result", outcome{state: StateFailed, err: err})
		case res.Infected():
			r.finish("result", outcome{state: StateInfected, matches: res.Matches})
		default:
			r.finish("result", outcome{state: StateClean})
		}
	}
}

func (r *run) onProgress(m event.Message) {
	text := m.Text()
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		r.c.opts.Metrics.LateSignal(string(event.Progress))
		return
	}
	if !r.progress.apply(text, m.Received) {
		r.mu.Unlock()
		slog.Debug("session: progress regression ignored", "id", r.id, "value", text)
		return
	}
	p := r.progress
	r.mu.Unlock()

	r.c.opts.Metrics.Progress()
	r.logger.Do(func() { slog.Info("session progress", "id", r.id, "progress", text) })
	if r.c.opts.Observer != nil {
		r.c.opts.Observer.Progress(r.id, p)
	}
}

func (r *run) onProgressError(m event.Message) {
	r.finish(string(event.ProgressError), outcome{state: StateFailed, err: &ProgressStreamError{Message: m.Text()}})
}

type outcome struct {
	state     State
	err       error
	matches   []engine.Match
	hashCount int64
}

// finish moves the session to a terminal state. Only the first signal wins;
// everything after it is dropped.
func (r *run) finish(source string, o outcome) {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		r.c.opts.Metrics.LateSignal(source)
		slog.Debug("session: late signal dropped", "id", r.id, "source", source)
		return
	}
	r.state = o.state
	last := r.progress.Text
	r.mu.Unlock()

	if err := r.subs.Close(); err != nil {
		slog.Warn("session: unsubscribe", "id", r.id, "error", err)
	}

	ctx := context.Background()
	nav := Navigation{SessionID: r.id, Kind: r.kind, Path: r.req.Path, Err: o.err}
	fin := history.Finish{Status: o.state.historyStatus(), FinishedAt: time.Now().UTC(), LastProgress: last}
	if o.err != nil {
		fin.Error = nav.ErrorMessage()
	}

	switch {
	case r.kind == history.KindUpdate:
		nav.View = ViewSettings
		if o.err == nil {
			nav.HashCount = o.hashCount
			fin.HashCount = &o.hashCount
			if r.c.opts.Settings != nil {
				if _, err := r.c.opts.Settings.RecordUpdate(ctx, o.hashCount, time.Now()); err != nil {
					slog.Warn("session: record update in settings", "id", r.id, "error", err)
				}
			}
		}
	case o.state == StateInfected:
		nav.View = ViewInfected
		nav.Matches = o.matches
		nav.Obfuscated = r.req.Obfuscated
		for _, m := range o.matches {
			fin.Matches = append(fin.Matches, history.Match{Path: m.Path, Rules: m.Rules})
		}
	case o.state == StateClean:
		nav.View = ViewClean
	default:
		nav.View = ViewEntry
	}

	if r.c.opts.Recorder != nil {
		if err := r.c.opts.Recorder.Finish(ctx, r.id, fin); err != nil {
			slog.Warn("session: record finish", "id", r.id, "error", err)
		}
	}
	r.c.opts.Metrics.SessionFinished(string(r.kind), o.state.String())
	slog.Info("session finished", "id", r.id, "kind", r.kind, "state", o.state,
		"matches", len(o.matches), "error", fin.Error, "elapsed", time.Since(r.started).Round(time.Millisecond))

	// Navigate while still active so a new session's loading view cannot
	// overtake this one.
	r.c.navMu.Lock()
	r.c.mu.Lock()
	r.c.current = nav
	r.c.mu.Unlock()
	r.c.opts.Navigator.Navigate(nav)
	r.c.navMu.Unlock()

	r.release()
}

// abandon discards the session without navigating.
func (r *run) abandon() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateAbandoned
	last := r.progress.Text
	r.mu.Unlock()

	if err := r.subs.Close(); err != nil {
		slog.Warn("session: unsubscribe", "id", r.id, "error", err)
	}
	if r.c.opts.Recorder != nil {
		err := r.c.opts.Recorder.Finish(context.Background(), r.id, history.Finish{
			Status: history.StatusAbandoned, FinishedAt: time.Now().UTC(), LastProgress: last,
		})
		if err != nil {
			slog.Warn("session: record abandon", "id", r.id, "error", err)
		}
	}
	r.c.opts.Metrics.SessionFinished(string(r.kind), StateAbandoned.String())
	slog.Info("session abandoned", "id", r.id)
	r.release()
}

func (r *run) release() {
	r.c.mu.Lock()
	if r.c.active == r {
		r.c.active = nil
	}
	r.c.mu.Unlock()
	close(r.done)
}
