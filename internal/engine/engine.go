package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eargollo/stickscan/internal/metrics"
)

// Command names a request understood by the scanning engine.
type Command string

const (
	StartScanner   Command = "start_scanner"
	UpdateDatabase Command = "update_database"
	CreateConfig   Command = "create_config"
	ListUSBDrives  Command = "list_usb_drives"
)

// long reports whether the command runs a scan or a database download.
func (c Command) long() bool {
	return c == StartScanner || c == UpdateDatabase
}

// ErrInFlight is returned when the same command is already awaiting a reply.
var ErrInFlight = errors.New("engine command already in flight")

// ErrUnreachable marks an EngineError caused by the transport rather than the engine.
var ErrUnreachable = errors.New("engine unreachable")

// EngineError is a failed command. Message is the engine's descriptor, verbatim
// when the engine produced one.
type EngineError struct {
	Command Command
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Command, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Unreachable reports whether the engine could not be reached at all.
func (e *EngineError) Unreachable() bool { return errors.Is(e.Err, ErrUnreachable) }

// Requester delivers one request to the engine and returns the raw reply.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, subject string, data []byte) ([]byte, error)

func (f RequesterFunc) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	return f(ctx, subject, data)
}

// Options configures a Gateway.
type Options struct {
	SubjectPrefix  string
	RequestTimeout time.Duration
	// LongTimeout bounds start_scanner and update_database.
	LongTimeout time.Duration
	Metrics     *metrics.Metrics
}

// reply is the envelope every command answers with.
type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Gateway issues commands to the engine. It never retries; each call
// resolves exactly once with a result or an error.
type Gateway struct {
	req  Requester
	opts Options

	mu       sync.Mutex
	inflight map[Command]bool
}

// New returns a Gateway sending requests through req.
func New(req Requester, opts Options) *Gateway {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "engine"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.LongTimeout <= 0 {
		opts.LongTimeout = 2 * time.Hour
	}
	return &Gateway{req: req, opts: opts, inflight: make(map[Command]bool)}
}

// Subject returns the request subject for cmd.
func (g *Gateway) Subject(cmd Command) string {
	return g.opts.SubjectPrefix + ".cmd." + string(cmd)
}

func (g *Gateway) acquire(cmd Command) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[cmd] {
		return false
	}
	g.inflight[cmd] = true
	return true
}

// Busy reports whether cmd is still awaiting a reply.
func (g *Gateway) Busy(cmd Command) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[cmd]
}

func (g *Gateway) release(cmd Command) {
	g.mu.Lock()
	delete(g.inflight, cmd)
	g.mu.Unlock()
}

// Invoke sends cmd with payload and returns the raw result.
// A nil payload is sent as an empty object.
func (g *Gateway) Invoke(ctx context.Context, cmd Command, payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
	}

	if !g.acquire(cmd) {
		return nil, fmt.Errorf("%s: %w", cmd, ErrInFlight)
	}
	defer g.release(cmd)

	timeout := g.opts.RequestTimeout
	if cmd.long() {
		timeout = g.opts.LongTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.req.Request(ctx, g.Subject(cmd), data)
	if err != nil {
		err = &EngineError{Command: cmd, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
		g.opts.Metrics.EngineCommand(string(cmd), err)
		slog.Warn("engine: command failed", "command", cmd, "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		err = &EngineError{Command: cmd, Message: "malformed reply", Err: err}
		g.opts.Metrics.EngineCommand(string(cmd), err)
		return nil, err
	}
	if r.Error != "" {
		err := &EngineError{Command: cmd, Message: r.Error}
		g.opts.Metrics.EngineCommand(string(cmd), err)
		slog.Info("engine: command returned error", "command", cmd, "message", r.Error)
		return nil, err
	}

	g.opts.Metrics.EngineCommand(string(cmd), nil)
	slog.Debug("engine: command done", "command", cmd, "elapsed", time.Since(start))
	return r.Result, nil
}

func unexpected(cmd Command, raw json.RawMessage) error {
	s := string(raw)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return &EngineError{Command: cmd, Message: "unexpected result: " + s}
}
