package scheduler

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/ipmgw/internal/scheduler ScheduleStore

// ScheduleStore persists schedule entries by name.
type ScheduleStore interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
}
