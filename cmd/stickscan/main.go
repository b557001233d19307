package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/eargollo/stickscan/internal/api"
	"github.com/eargollo/stickscan/internal/config"
	"github.com/eargollo/stickscan/internal/db"
	"github.com/eargollo/stickscan/internal/drives"
	"github.com/eargollo/stickscan/internal/engine"
	"github.com/eargollo/stickscan/internal/event"
	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/logging"
	"github.com/eargollo/stickscan/internal/metrics"
	"github.com/eargollo/stickscan/internal/scheduler"
	"github.com/eargollo/stickscan/internal/session"
	"github.com/eargollo/stickscan/internal/settings"
	"github.com/eargollo/stickscan/internal/ui"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

// Exit codes for the one-shot modes.
const (
	exitClean    = 0
	exitInfected = 1
	exitFailed   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	scanPath := flag.String("scan", "", "scan `path` once and exit (0 clean, 1 infected, 2 failed)")
	updateDB := flag.Bool("update-db", false, "update the signature database once and exit")
	flag.Parse()

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitFailed
	}
	oneShot := *scanPath != "" || *updateDB
	useTUI := !oneShot && wantTUI(cfg.UI)

	// ── Logging ────────────────────────────────────────────────────────────
	// The TUI owns the terminal, so console output is off while it runs.
	logMgr, logger := logging.NewManager(logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Console:     !useTUI,
		FilePath:    cfg.LogFile,
		FileMaxSize: 10,
		FileMaxAge:  30,
	})
	defer logMgr.Close() //nolint:errcheck
	slog.SetDefault(logger)
	slog.Info("stickscan starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"nats_url", cfg.Engine.NATSURL,
		"ui", useTUI)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		return exitFailed
	}
	defer database.Close()

	applied, err := db.Migrate(context.Background(), database)
	if err != nil {
		slog.Error("migrate history db", "error", err)
		return exitFailed
	}
	if applied > 0 {
		slog.Info("history db migrated", "applied", applied)
	}
	if err := history.MarkStaleSessionsAbandoned(database); err != nil {
		slog.Warn("mark stale sessions", "error", err)
	}
	store := history.NewStore(database)

	// ── Metrics ────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ── Engine bridge ──────────────────────────────────────────────────────
	nc, err := engine.Connect(cfg.Engine.NATSURL, "stickscan")
	if err != nil {
		slog.Error("connect engine", "error", err)
		return exitFailed
	}
	defer nc.Close()

	gateway := engine.New(engine.NewNATSRequester(nc), engine.Options{
		SubjectPrefix:  cfg.Engine.SubjectPrefix,
		RequestTimeout: cfg.Engine.RequestTimeout,
		LongTimeout:    cfg.Engine.ScanTimeout,
		Metrics:        m,
	})

	bus := event.NewBus(256)
	go bus.Start()
	defer bus.Stop()

	relay := event.NewRelay(nc, cfg.Engine.SubjectPrefix, bus)
	if err := relay.Start(); err != nil {
		slog.Error("subscribe engine events", "error", err)
		return exitFailed
	}
	defer relay.Stop() //nolint:errcheck

	// ── Settings ───────────────────────────────────────────────────────────
	settingsSvc := settings.NewService(settings.NewClient(gateway))
	settingsSvc.OnChange(func(prev, next settings.Document) {
		if prev.LoggingIsActive != next.LoggingIsActive {
			logMgr.SetFileLogging(next.LoggingIsActive)
		}
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A failed load keeps the defaults; the engine may come up later.
	settingsSvc.Load(ctx) //nolint:errcheck

	// ── Sessions ───────────────────────────────────────────────────────────
	bridge := ui.NewBridge()
	coord := session.New(session.Options{
		Gateway:   gateway,
		Events:    bus,
		Navigator: bridge,
		Observer:  bridge,
		Recorder:  store,
		Settings:  settingsSvc,
		Metrics:   m,
		DBFile:    cfg.Engine.DBFile,
	})
	defer coord.Close()

	if oneShot {
		return runOnce(ctx, coord, *scanPath, settingsSvc.Get().ObfuscatedIsActive)
	}

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New(cfg.ScheduleShutdownTimeout)
	if err := sched.Follow(settingsSvc, scheduler.UpdateJob(coord, m)); err != nil {
		slog.Warn("arm update schedule", "error", err)
	}
	defer sched.Stop()

	// ── Drives ─────────────────────────────────────────────────────────────
	driveSvc := drives.NewService(gateway)
	driveSvc.OnChange(bridge.DrivesChanged)
	watcher := drives.NewWatcher(cfg.MountRoot, func(ctx context.Context) error {
		_, err := driveSvc.Refresh(ctx)
		return err
	})

	// ── HTTP server, watcher and UI ────────────────────────────────────────
	srv := api.New(cfg.HTTPAddr, api.Deps{
		Sessions: coord,
		History:  store,
		Schedule: sched,
		Drives:   driveSvc,
		Settings: settingsSvc,
		Gatherer: reg,
		Version:  version,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	if useTUI {
		g.Go(func() error {
			// Quitting the UI stops the service.
			defer cancel()
			p := tea.NewProgram(
				ui.NewApp(ui.Deps{
					Sessions: coord,
					Drives:   driveSvc,
					Settings: settingsSvc,
					Version:  version,
				}),
				tea.WithAltScreen(),
				tea.WithContext(gctx),
			)
			bridge.Attach(p)
			defer bridge.Detach()
			if _, err := p.Run(); err != nil && gctx.Err() == nil {
				return fmt.Errorf("terminal ui: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		return exitFailed
	}
	slog.Info("stickscan stopped")
	return exitClean
}

// wantTUI resolves the ui setting; auto means "when attached to a terminal".
func wantTUI(mode string) bool {
	switch mode {
	case config.UITUI:
		return true
	case config.UIHeadless:
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runOnce runs a single scan (or update when path is empty) and maps the
// outcome to an exit code.
func runOnce(ctx context.Context, coord *session.Coordinator, path string, obfuscated bool) int {
	var snap session.Snapshot
	var err error
	if path != "" {
		snap, err = coord.StartScan(ctx, session.Request{
			Path:       path,
			Obfuscated: obfuscated,
			Trigger:    session.TriggerCLI,
		})
	} else {
		snap, err = coord.StartUpdate(ctx, session.TriggerCLI)
	}
	if err != nil {
		slog.Error("start session", "error", err)
		return exitFailed
	}

	select {
	case <-snap.Done:
	case <-ctx.Done():
		slog.Warn("interrupted")
		return exitFailed
	}

	nav := coord.Current()
	switch {
	case nav.Err != nil:
		fmt.Fprintf(os.Stderr, "failed: %s\n", nav.ErrorMessage())
		return exitFailed
	case nav.View == session.ViewInfected:
		fmt.Printf("infected: %d file(s)\n", len(nav.Matches))
		if !nav.Obfuscated {
			for _, match := range nav.Matches {
				fmt.Println(match.Path)
			}
		}
		return exitInfected
	case nav.View == session.ViewClean:
		fmt.Println("clean")
		return exitClean
	case nav.View == session.ViewSettings:
		fmt.Printf("database updated: %d signatures\n", nav.HashCount)
		return exitClean
	}
	return exitFailed
}
