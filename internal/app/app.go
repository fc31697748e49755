// Package app assembles the ipmgw service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/ipmgw/internal/api"
	"github.com/mattjoyce/ipmgw/internal/auth"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/dialog"
	"github.com/mattjoyce/ipmgw/internal/events"
	"github.com/mattjoyce/ipmgw/internal/host"
	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/newtab"
	"github.com/mattjoyce/ipmgw/internal/port"
	"github.com/mattjoyce/ipmgw/internal/prefs"
	"github.com/mattjoyce/ipmgw/internal/protocol"
	"github.com/mattjoyce/ipmgw/internal/scheduler"
	"github.com/mattjoyce/ipmgw/internal/storage"
	"github.com/mattjoyce/ipmgw/internal/telemetry"
)

// Options override collaborators for tests.
type Options struct {
	// Backend replaces the configured preference backend.
	Backend prefs.Backend
	// HTTPClient sends telemetry pings.
	HTTPClient telemetry.HTTPDoer
	Now        func() time.Time
}

// App is a wired ipmgw instance. Build it, Start it, then Close it.
type App struct {
	cfg    *config.Config
	base   *slog.Logger
	logger *slog.Logger

	Store     *prefs.Store
	Hub       *events.Hub
	Host      *host.State
	Library   *ipm.Library
	Stats     *dialog.StatsStore
	Timings   *dialog.Timings
	Dialogs   *dialog.Manager
	NewTabs   *newtab.Manager
	EventLog  *telemetry.EventLog
	Telemetry *telemetry.Service
	Scheduler *scheduler.Scheduler
	API       *api.Server

	policy   *ipm.OriginPolicy
	droppers []ipm.Dropper
	closers  []func() error
}

// Build constructs every component without starting any goroutine.
func Build(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{cfg: cfg, base: logger, logger: logger.With("component", "app")}

	backend := opts.Backend
	if backend == nil {
		var closer func() error
		var err error
		backend, closer, err = OpenBackend(ctx, cfg.State)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closer)
	}

	store, err := prefs.NewStore(backend, Defaults(cfg), logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = store

	a.policy, err = ipm.NewOriginPolicy(cfg.IPM.DefaultOrigin, cfg.IPM.SafeOrigins)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("origin policy: %w", err)
	}

	versions := ipm.DefaultVersions
	a.Hub = events.NewHub(256)
	a.Host = host.New(store, opts.Now, logger)
	a.Library = ipm.NewLibrary(store, versions, logger)
	a.Stats = dialog.NewStatsStore(store)
	a.Timings = dialog.NewTimings(store, a.Host, opts.Now, logger)
	a.EventLog = telemetry.NewEventLog(store, a.Host, cfg.IPM.Install, versions, opts.Now)
	messenger := port.New(a.Hub, logger)

	a.Dialogs = dialog.NewManager(dialog.Options{
		Commands:  a.Library,
		Stats:     a.Stats,
		Timings:   a.Timings,
		Host:      a.Host,
		Messenger: messenger,
		Events:    a.EventLog,
		Policy:    a.policy,
		Locale:    protocol.LocaleInfo{Locale: cfg.Locale.Language, Direction: cfg.Locale.Direction},
		Platform:  cfg.Service.Platform,
		Hub:       a.Hub,
		Now:       opts.Now,
		Logger:    logger,
	})
	a.NewTabs = newtab.NewManager(a.Library, a.Host, messenger, a.EventLog, a.policy, cfg.IPM.Install.InstallType, logger)
	a.droppers = []ipm.Dropper{a.Dialogs, a.NewTabs}

	a.Telemetry = telemetry.NewService(cfg.IPM, opts.HTTPClient, a.Host, a.EventLog, a.Library, logger)
	a.Scheduler = scheduler.New(scheduler.NewPrefsStore(store), cfg.Service.TickInterval, a.Hub, logger)

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	a.API = api.New(api.Config{
		Listen:     cfg.API.Listen,
		APIKey:     cfg.API.Auth.APIKey,
		Tokens:     tokens,
		PushSecret: cfg.IPM.PushSecret,
	}, api.Deps{
		Dialogs:  a.Dialogs,
		NewTabs:  a.NewTabs,
		Commands: a.Library,
		Host:     a.Host,
		Stats:    a.Stats,
		Pusher:   a.Telemetry,
		Hub:      a.Hub,
		Droppers: a.droppers,
	}, logger)

	return a, nil
}

// Start brings the engine up in dependency order: the dialog manager, the
// command actors (replaying deferred commands), stored command
// reinitialization, then the ping schedule. It returns once everything runs
// in the background.
func (a *App) Start(ctx context.Context) error {
	if err := a.Store.Watch(ctx); err != nil {
		return err
	}

	stopTimings, err := a.Timings.Start(ctx)
	if err != nil {
		return fmt.Errorf("load timing configurations: %w", err)
	}
	a.closers = append(a.closers, func() error { stopTimings(); return nil })

	a.Dialogs.Start(ctx)
	a.closers = append(a.closers, func() error { a.Dialogs.Stop(); return nil })

	a.Library.SetCommandActor(ctx, ipm.CommandCreateOnPageDialog,
		dialog.NewActor(a.policy, a.Dialogs.HandleCommand, a.base))
	a.Library.SetCommandActor(ctx, ipm.CommandCreateTab,
		newtab.NewActor(a.policy, a.NewTabs.HandleCommand, a.base))
	a.Library.SetCommandActor(ctx, ipm.CommandDeleteCommands,
		ipm.NewDeleteActor(a.Library, ipm.NewDeleteHandler(a.Library, a.droppers, a.base), a.base))

	if err := a.Library.Reinitialize(ctx); err != nil {
		a.logger.Warn("some stored commands failed to reinitialize", "error", err)
	}

	// Listeners go in before the tick loop's first pass.
	if err := a.Telemetry.Start(ctx, a.Scheduler); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.closers = append(a.closers, func() error { a.Scheduler.Stop(); return nil })
	a.logger.Info("ipm engine started",
		"deferred", a.Library.PendingCount(),
		"backend", a.cfg.State.Backend)
	return nil
}

// Serve runs the HTTP API until ctx is done. It returns nil right away when
// the API is disabled.
func (a *App) Serve(ctx context.Context) error {
	if !a.cfg.API.Enabled {
		<-ctx.Done()
		return nil
	}
	err := a.API.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops components in reverse start order and releases storage.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenBackend opens the configured preference backend. The returned func
// releases it.
func OpenBackend(ctx context.Context, cfg config.StateConfig) (prefs.Backend, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return prefs.NewMemoryBackend(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return prefs.NewRedisBackend(client, cfg.Redis.Prefix), client.Close, nil
	default:
		db, err := storage.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return prefs.NewSQLiteBackend(db), db.Close, nil
	}
}

// Defaults are the preference values used until a key is first written.
// Timing configurations from the config file override the built-in ones.
func Defaults(cfg *config.Config) map[string]any {
	defaults := host.Defaults()
	defaults[prefs.KeyCommands] = map[string]any{}
	defaults[prefs.KeyEvents] = []telemetry.EventData{}
	defaults[prefs.KeyDialogStats] = map[string]any{}
	defaults[prefs.KeySchedules] = map[string]scheduler.Entry{}
	defaults[prefs.KeyTimings] = TimingConfigurations(cfg.Timings)
	return defaults
}

// TimingConfigurations merges configured timings over the defaults.
// Unknown timing names are kept so they surface as warnings on load.
func TimingConfigurations(configured map[string]config.TimingConfig) map[dialog.Timing]dialog.TimingConfiguration {
	out := dialog.DefaultTimingConfigurations()
	for name, t := range configured {
		out[dialog.Timing(name)] = dialog.TimingConfiguration{
			CooldownDuration:     t.Cooldown,
			MaxDisplayCount:      t.MaxDisplayCount,
			MinAllowlistingDelay: t.MinAllowlistingDelay,
			MaxAllowlistingDelay: t.MaxAllowlistingDelay,
		}
	}
	return out
}
