package ipm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DeleteAllKey deletes every stored command.
const DeleteAllKey = "__all__"

// DeleteBehavior lists the commands a delete_commands command removes.
type DeleteBehavior struct {
	CommandIDs []string `json:"commandIds"`
}

// IDLister lists stored command ids.
type IDLister interface {
	CommandIDs(ctx context.Context) ([]string, error)
}

// Dropper forgets runtime state (queued dialogs, pending tabs) of commands.
type Dropper interface {
	Drop(ctx context.Context, ipmIDs ...string) error
}

// DeleteActor handles delete_commands.
type DeleteActor struct {
	ids     IDLister
	handler Handler
	logger  *slog.Logger
	params  []ParamDefinition
}

func NewDeleteActor(ids IDLister, handler Handler, logger *slog.Logger) *DeleteActor {
	return &DeleteActor{
		ids:     ids,
		handler: handler,
		logger:  logger.With("component", "delete-commands"),
		params:  []ParamDefinition{{Name: "commands", Validate: IsNotBlank}},
	}
}

func (a *DeleteActor) IsValidCommand(cmd Command) bool {
	if errs := ValidateParams(cmd, a.params); len(errs) > 0 {
		a.logger.Error("invalid parameters received", "ipm_id", cmd.ID(), "errors", strings.Join(errs, " "))
		return false
	}
	return true
}

// Behavior resolves __all__ against the commands stored at call time.
func (a *DeleteActor) Behavior(ctx context.Context, cmd Command) (any, bool) {
	if !a.IsValidCommand(cmd) {
		return nil, false
	}
	commands, _ := cmd.String("commands")
	commands = strings.TrimSpace(commands)

	if commands == DeleteAllKey {
		ids, err := a.ids.CommandIDs(ctx)
		if err != nil {
			a.logger.Error("failed to list stored commands", "error", err)
			return nil, false
		}
		return &DeleteBehavior{CommandIDs: ids}, true
	}

	var ids []string
	for _, id := range strings.Split(commands, ",") {
		ids = append(ids, strings.TrimSpace(id))
	}
	return &DeleteBehavior{CommandIDs: ids}, true
}

// Content is always empty; delete_commands shows nothing.
func (a *DeleteActor) Content(Command) (any, bool) {
	return map[string]any{}, true
}

func (a *DeleteActor) HandleCommand(ctx context.Context, ipmID string) error {
	return a.handler(ctx, ipmID)
}

// NewDeleteHandler returns the handler that removes the listed commands,
// lets droppers forget their runtime state, and finally dismisses the
// delete command itself.
func NewDeleteHandler(lib *Library, droppers []Dropper, logger *slog.Logger) Handler {
	logger = logger.With("component", "delete-commands")
	return func(ctx context.Context, ipmID string) error {
		raw, err := lib.Behavior(ctx, ipmID)
		if err != nil {
			return err
		}
		behavior, ok := raw.(*DeleteBehavior)
		if !ok {
			logger.Warn("no delete behavior, dismissing", "ipm_id", ipmID)
			return lib.Dismiss(ctx, ipmID)
		}

		var errs []error
		for _, d := range droppers {
			if err := d.Drop(ctx, behavior.CommandIDs...); err != nil {
				errs = append(errs, err)
			}
		}
		for _, id := range behavior.CommandIDs {
			if err := lib.Dismiss(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			}
		}
		if err := lib.Dismiss(ctx, ipmID); err != nil {
			errs = append(errs, err)
		}
		logger.Info("commands deleted", "ipm_id", ipmID, "count", len(behavior.CommandIDs))
		return errors.Join(errs...)
	}
}
