package ipm

import "context"

// Handler is the side-effecting entry point the owner of an actor supplies
// at registration time.
type Handler func(ctx context.Context, ipmID string) error

// Actor shapes and validates one command type.
type Actor interface {
	Behavior(ctx context.Context, cmd Command) (any, bool)
	Content(cmd Command) (any, bool)
	IsValidCommand(cmd Command) bool
	HandleCommand(ctx context.Context, ipmID string) error
}
