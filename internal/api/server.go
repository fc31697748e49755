// Package api is the HTTP surface of ipmgw. The browser shim reports tab
// events and relays content-script messages here and replays outbound tab
// messages from the SSE stream; operators manage commands and host state.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/ipmgw/internal/auth"
	"github.com/mattjoyce/ipmgw/internal/dialog"
	"github.com/mattjoyce/ipmgw/internal/events"
	"github.com/mattjoyce/ipmgw/internal/host"
	"github.com/mattjoyce/ipmgw/internal/inspect"
	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/newtab"
	"github.com/mattjoyce/ipmgw/internal/protocol"
)

// Dialogs is the on-page dialog manager.
type Dialogs interface {
	TabUpdated(ctx context.Context, tab dialog.Tab) error
	TabRemoved(ctx context.Context, tabID int) error
	HandleMessage(ctx context.Context, tabID int, msg protocol.Message) (any, error)
	Snapshot(ctx context.Context) (dialog.Snapshot, error)
}

// NewTabs is the create_tab manager.
type NewTabs interface {
	TabCreated(ctx context.Context, tab newtab.Tab) error
	TabUpdated(ctx context.Context, tab newtab.Tab) error
	TabRemoved(tabID int)
	Pending() []string
}

// Commands is the IPM command library.
type Commands interface {
	inspect.CommandSource
	CommandIDs(ctx context.Context) ([]string, error)
	Execute(ctx context.Context, raw any, reinit bool) error
	Dismiss(ctx context.Context, ipmID string) error
	PendingCount() int
}

// HostState is the user and extension state.
type HostState interface {
	SetPremium(ctx context.Context, active bool) error
	SetIgnoredCategories(ctx context.Context, categories []string) error
	SetDataCollectionOptOut(ctx context.Context, off bool) error
	Allowlist(ctx context.Context, domain, origin string, created time.Time) (host.AllowlistFilter, error)
	RemoveAllowlisting(ctx context.Context, domain string) error
	AllowlistFilters(ctx context.Context) ([]host.AllowlistFilter, error)
}

// Pusher executes command bodies sent by the IPM server.
type Pusher interface {
	HandleCommand(ctx context.Context, body []byte) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// PushSecret enables POST /ipm/push when set.
	PushSecret string
}

// Deps are the components the API drives. NewTabs, Stats, Pusher and
// Droppers are optional.
type Deps struct {
	Dialogs  Dialogs
	NewTabs  NewTabs
	Commands Commands
	Host     HostState
	Stats    inspect.StatsSource
	Pusher   Pusher
	Hub      *events.Hub
	// Droppers forget runtime state of dismissed commands.
	Droppers []ipm.Dropper
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Hub == nil {
		deps.Hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// SSE streams stay open; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// The IPM server signs pushes instead of holding a bearer token.
	if s.config.PushSecret != "" && s.deps.Pusher != nil {
		r.Post("/ipm/push", s.handlePush)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/tabs/{tabID}", func(r chi.Router) {
			r.Use(s.requireScopes("tabs:rw"))
			r.Post("/created", s.handleTabCreated)
			r.Post("/updated", s.handleTabUpdated)
			r.Post("/messages", s.handleTabMessage)
			r.Delete("/", s.handleTabRemoved)
		})

		r.With(s.requireScopes("commands:ro")).Get("/commands", s.handleListCommands)
		r.With(s.requireScopes("commands:ro")).Get("/commands/{ipmID}", s.handleGetCommand)
		r.With(s.requireScopes("commands:rw")).Post("/commands", s.handleExecuteCommand)
		r.With(s.requireScopes("commands:rw")).Delete("/commands/{ipmID}", s.handleDismissCommand)
		r.With(s.requireScopes("commands:ro")).Get("/dialogs", s.handleDialogs)

		r.With(s.requireScopes("host:rw")).Get("/allowlist", s.handleListAllowlist)
		r.With(s.requireScopes("host:rw")).Put("/allowlist/{domain}", s.handleAllowlist)
		r.With(s.requireScopes("host:rw")).Delete("/allowlist/{domain}", s.handleRemoveAllowlist)
		r.With(s.requireScopes("host:rw")).Put("/host/license", s.handleLicense)
		r.With(s.requireScopes("host:rw")).Put("/host/notifications", s.handleNotifications)
		r.With(s.requireScopes("host:rw")).Put("/host/data-collection", s.handleDataCollection)

		r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
