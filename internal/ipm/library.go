package ipm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/ipmgw/internal/prefs"
)

type pendingCommand struct {
	cmd    Command
	reinit bool
}

// Library persists IPM commands and dispatches them to registered actors.
// Commands arriving before their actor is registered wait in a pending
// queue keyed by ipm_id and run once the actor registers.
type Library struct {
	prefs    *prefs.Store
	versions map[string]int
	logger   *slog.Logger

	mu      sync.Mutex
	actors  map[string]Actor
	pending []pendingCommand

	// storeMu serialises read-modify-write cycles on the command map.
	storeMu sync.Mutex
}

func NewLibrary(store *prefs.Store, versions map[string]int, logger *slog.Logger) *Library {
	if versions == nil {
		versions = DefaultVersions
	}
	return &Library{
		prefs:    store,
		versions: versions,
		logger:   logger.With("component", "ipm"),
		actors:   make(map[string]Actor),
	}
}

// CommandVersion returns the version this build executes for name.
func (l *Library) CommandVersion(name string) int {
	return l.versions[name]
}

// SetCommandActor registers actor for name and runs any pending commands of
// that type in arrival order.
func (l *Library) SetCommandActor(ctx context.Context, name string, actor Actor) {
	l.mu.Lock()
	l.actors[name] = actor
	var ready []pendingCommand
	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.cmd.Name() == name {
			ready = append(ready, p)
		} else {
			kept = append(kept, p)
		}
	}
	l.pending = kept
	l.mu.Unlock()

	for _, p := range ready {
		if err := l.Execute(ctx, p.cmd, p.reinit); err != nil {
			l.logger.Error("pending command failed", "ipm_id", p.cmd.ID(), "command", name, "error", err)
		}
	}
}

// PendingCount returns the number of commands waiting for an actor.
func (l *Library) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Execute validates, persists and dispatches a command. A command whose
// actor is not yet registered is deferred and nil is returned.
func (l *Library) Execute(ctx context.Context, raw any, reinit bool) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		l.logger.Error("invalid command received", "error", err)
		return err
	}
	logger := l.logger.With("ipm_id", cmd.ID(), "command", cmd.Name())

	want, known := l.versions[cmd.Name()]
	if !known {
		logger.Error("unknown command name received")
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name())
	}
	if got, ok := cmd.Version(); !ok || got != want {
		logger.Error("command version mismatch", "version", cmd["version"], "expected", want)
		return fmt.Errorf("%w: %v != %d", ErrVersionMismatch, cmd["version"], want)
	}

	actor := l.actorOrDefer(cmd, reinit)
	if actor == nil {
		logger.Info("no actor registered, command deferred")
		return nil
	}

	if !actor.IsValidCommand(cmd) {
		return fmt.Errorf("%w: %s", ErrInvalidParams, cmd.ID())
	}

	l.storeMu.Lock()
	commands, err := l.load(ctx)
	if err == nil {
		if _, seen := commands[cmd.ID()]; seen && !reinit {
			l.storeMu.Unlock()
			logger.Error("campaign already processed")
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.ID())
		}
		commands[cmd.ID()] = cmd
		err = l.prefs.Set(ctx, prefs.KeyCommands, commands)
	}
	l.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("store command %s: %w", cmd.ID(), err)
	}

	if err := actor.HandleCommand(ctx, cmd.ID()); err != nil {
		logger.Error("command handler failed", "error", err)
		return fmt.Errorf("handle command %s: %w", cmd.ID(), err)
	}
	logger.Debug("command executed", "reinit", reinit)
	return nil
}

// Dismiss removes the stored command, if any.
func (l *Library) Dismiss(ctx context.Context, ipmID string) error {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	commands, err := l.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := commands[ipmID]; !ok {
		return nil
	}
	delete(commands, ipmID)
	if err := l.prefs.Set(ctx, prefs.KeyCommands, commands); err != nil {
		return fmt.Errorf("dismiss command %s: %w", ipmID, err)
	}
	l.logger.Debug("command dismissed", "ipm_id", ipmID)
	return nil
}

// Command returns the stored command, or nil.
func (l *Library) Command(ctx context.Context, ipmID string) (Command, error) {
	commands, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return commands[ipmID], nil
}

// CommandIDs returns the ids of all stored commands, sorted.
func (l *Library) CommandIDs(ctx context.Context) ([]string, error) {
	commands, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(commands))
	for id := range commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Behavior returns the actor-specific behavior of a stored command, or nil
// when the command or its actor is missing.
func (l *Library) Behavior(ctx context.Context, ipmID string) (any, error) {
	cmd, actor, err := l.resolve(ctx, ipmID)
	if err != nil || actor == nil {
		return nil, err
	}
	behavior, ok := actor.Behavior(ctx, cmd)
	if !ok {
		return nil, nil
	}
	return behavior, nil
}

// Content returns the actor-specific content of a stored command, or nil
// when the command or its actor is missing.
func (l *Library) Content(ctx context.Context, ipmID string) (any, error) {
	cmd, actor, err := l.resolve(ctx, ipmID)
	if err != nil || actor == nil {
		return nil, err
	}
	content, ok := actor.Content(cmd)
	if !ok {
		return nil, nil
	}
	return content, nil
}

// Reinitialize replays every stored command, bypassing the duplicate check.
func (l *Library) Reinitialize(ctx context.Context) error {
	commands, err := l.load(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(commands))
	for id := range commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := l.Execute(ctx, commands[id], true); err != nil {
			errs = append(errs, err)
		}
	}
	l.logger.Info("commands reinitialized", "count", len(ids), "failed", len(errs))
	return errors.Join(errs...)
}

func (l *Library) resolve(ctx context.Context, ipmID string) (Command, Actor, error) {
	cmd, err := l.Command(ctx, ipmID)
	if err != nil || cmd == nil {
		return nil, nil, err
	}
	return cmd, l.actor(cmd.Name()), nil
}

func (l *Library) actor(name string) Actor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.actors[name]
}

// actorOrDefer returns the actor for cmd, or queues cmd as pending when
// there is none. Lookup and enqueue share one critical section so that a
// concurrent SetCommandActor either sees the command or is seen by it.
func (l *Library) actorOrDefer(cmd Command, reinit bool) Actor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if actor := l.actors[cmd.Name()]; actor != nil {
		return actor
	}
	for i, p := range l.pending {
		if p.cmd.ID() == cmd.ID() {
			l.pending[i] = pendingCommand{cmd: cmd, reinit: reinit || p.reinit}
			return nil
		}
	}
	l.pending = append(l.pending, pendingCommand{cmd: cmd, reinit: reinit})
	return nil
}

func (l *Library) load(ctx context.Context) (map[string]Command, error) {
	commands := make(map[string]Command)
	if _, err := l.prefs.Get(ctx, prefs.KeyCommands, &commands); err != nil {
		return nil, err
	}
	if commands == nil {
		commands = make(map[string]Command)
	}
	return commands, nil
}
