package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rhythm/internal/metrics"
	"github.com/desertthunder/rhythm/internal/shared"
	"github.com/desertthunder/rhythm/internal/tasks"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, recovery, CORS, etc.
type Middleware func(http.Handler) http.Handler

// Route binds a method and path pattern to a handler.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Handler defines the interface for a group of related HTTP endpoints.
type Handler interface {
	Routes() []Route // Routes returns the endpoints this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route of a custom Handler
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

const shutdownTimeout = 10 * time.Second

// Options contains the dependencies of a [Server].
type Options struct {
	Config     shared.ServerConfig
	Manager    *tasks.Manager
	Executable string // yt-dlp executable reported by /health; empty means PATH lookup
	Logger     *log.Logger
}

// Server is the download job HTTP service.
type Server struct {
	addr   string
	router *BasicRouter
	logger *log.Logger
}

// New wires the routes and middleware for opts.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	router := NewBasicRouter()
	router.Use(
		Logging(opts.Logger),
		Recover(opts.Logger),
		CORS(opts.Config.AllowedOrigins),
	)

	router.Handler(NewDownloadHandler(opts.Manager, opts.Logger))
	router.Handler(NewHealthHandler(opts.Manager, opts.Executable))
	router.Handle(http.MethodGet, "/metrics", metrics.Handler())

	return &Server{addr: opts.Config.Addr(), router: router, logger: opts.Logger}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
