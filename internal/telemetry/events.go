package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/prefs"
)

// EventLog is the list of events waiting for the next ping.
type EventLog struct {
	prefs    *prefs.Store
	host     Host
	info     config.InstallInfo
	versions map[string]int
	now      func() time.Time

	mu sync.Mutex
}

func NewEventLog(store *prefs.Store, host Host, info config.InstallInfo, versions map[string]int, now func() time.Time) *EventLog {
	if now == nil {
		now = time.Now
	}
	return &EventLog{prefs: store, host: host, info: info, versions: versions, now: now}
}

// RecordEvent appends an event for the command ipmID.
func (l *EventLog) RecordEvent(ctx context.Context, ipmID, commandName, action string) error {
	deviceID, err := l.host.InstallationID(ctx)
	if err != nil {
		return fmt.Errorf("installation id: %w", err)
	}
	ev := EventData{
		Type:       dataTypeEvent,
		DeviceID:   deviceID,
		Action:     action,
		Platform:   platformWeb,
		AppVersion: l.info.AppVersion,
		UserTime:   userTime(l.now()),
		Attributes: EventAttributes{
			BaseAttributes: baseAttributes(l.info),
			IPMID:          ipmID,
			CommandName:    commandName,
			CommandVersion: l.versions[commandName],
		},
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	events, err := l.load(ctx)
	if err != nil {
		return err
	}
	return l.prefs.Set(ctx, prefs.KeyEvents, append(events, ev))
}

// Events returns the recorded events, oldest first.
func (l *EventLog) Events(ctx context.Context) ([]EventData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Drain returns the recorded events and clears the log.
func (l *EventLog) Drain(ctx context.Context) ([]EventData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.prefs.Set(ctx, prefs.KeyEvents, []EventData{}); err != nil {
		return events, fmt.Errorf("clear events: %w", err)
	}
	return events, nil
}

func (l *EventLog) load(ctx context.Context) ([]EventData, error) {
	var events []EventData
	if _, err := l.prefs.Get(ctx, prefs.KeyEvents, &events); err != nil {
		return nil, err
	}
	return events, nil
}
