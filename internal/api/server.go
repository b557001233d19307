package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eargollo/stickscan/internal/api/handlers"
)

// Deps are the services the HTTP API exposes.
type Deps struct {
	Sessions handlers.Sessions
	History  handlers.History
	Schedule handlers.Schedule
	Drives   handlers.Drives
	Settings handlers.Settings
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Version  string
}

// Server holds the HTTP server.
type Server struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	statusH := &handlers.StatusHandler{
		Sessions: d.Sessions,
		History:  d.History,
		Schedule: d.Schedule,
		Version:  d.Version,
	}
	scansH := &handlers.ScansHandler{Sessions: d.Sessions, History: d.History, Settings: d.Settings}
	drivesH := &handlers.DrivesHandler{Drives: d.Drives}
	settingsH := &handlers.SettingsHandler{Settings: d.Settings}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)
		r.Get("/view", statusH.View)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Get("/scans/{id}", scansH.Get)

		r.Post("/database/update", scansH.UpdateDatabase)

		r.Get("/drives", drivesH.ServeHTTP)

		r.Get("/settings", settingsH.Get)
		r.Patch("/settings", settingsH.Update)
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{
		addr:    addr,
		handler: r,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
