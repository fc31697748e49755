// Package prefs is the key/value preference store shared by every
// component. Values are JSON documents; listeners are notified when a key
// changes, either locally or (for backends that support it) from another
// process.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Well-known preference keys.
const (
	KeyCommands          = "ipm_commands"
	KeyEvents            = "ipm_events"
	KeyDialogStats       = "onpage_dialog_command_stats"
	KeyTimings           = "onpage_dialog_timing_configurations"
	KeyDataCollectionOff = "data_collection_opt_out"
	KeyInstallationID    = "installation_id"
	KeyPremium           = "premium_active"
	KeyIgnoredCategories = "notifications_ignored_categories"
	KeyAllowlisting      = "allowlisting_filters"
	KeySchedules         = "scheduled_events"
)

// Backend persists raw JSON values.
type Backend interface {
	Load(ctx context.Context, key string) (json.RawMessage, bool, error)
	Save(ctx context.Context, key string, value json.RawMessage) error
}

// Notifier is implemented by backends that can report writes made by other processes.
type Notifier interface {
	Changes(ctx context.Context) (<-chan string, error)
}

// Store wraps a Backend with defaults and change listeners.
type Store struct {
	backend  Backend
	defaults map[string]json.RawMessage
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[string]map[int]func(key string)
	nextID    int
}

// NewStore creates a Store. defaults are returned by Get for keys never written.
func NewStore(backend Backend, defaults map[string]any, logger *slog.Logger) (*Store, error) {
	s := &Store{
		backend:   backend,
		defaults:  make(map[string]json.RawMessage, len(defaults)),
		logger:    logger.With("component", "prefs"),
		listeners: make(map[string]map[int]func(string)),
	}
	for key, value := range defaults {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal default for %q: %w", key, err)
		}
		s.defaults[key] = b
	}
	return s, nil
}

// Get decodes the value of key into out. A key with neither a stored value
// nor a default leaves out untouched and reports false.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.Raw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode preference %q: %w", key, err)
	}
	return true, nil
}

// Raw returns the stored JSON for key, falling back to its default.
func (s *Store) Raw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("preference key is empty")
	}
	raw, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load preference %q: %w", key, err)
	}
	if ok {
		return raw, true, nil
	}
	if def, ok := s.defaults[key]; ok {
		return def, true, nil
	}
	return nil, false, nil
}

// IsSet reports whether key has a stored value, ignoring defaults.
func (s *Store) IsSet(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load preference %q: %w", key, err)
	}
	return ok, nil
}

// Set encodes value, persists it and notifies listeners of key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return fmt.Errorf("preference key is empty")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %q: %w", key, err)
	}
	if err := s.backend.Save(ctx, key, b); err != nil {
		return fmt.Errorf("save preference %q: %w", key, err)
	}
	s.notify(key)
	return nil
}

// On registers fn to run after key changes. The returned func unregisters it.
// Listeners run on the writer's goroutine and must not block.
func (s *Store) On(key string, fn func(key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]func(string))
	}
	s.listeners[key][id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners[key], id)
		s.mu.Unlock()
	}
}

// Watch forwards change notifications from a Notifier backend to listeners
// until ctx is done. Backends without notifications return immediately.
func (s *Store) Watch(ctx context.Context) error {
	n, ok := s.backend.(Notifier)
	if !ok {
		return nil
	}
	ch, err := n.Changes(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to preference changes: %w", err)
	}
	go func() {
		for key := range ch {
			s.logger.Debug("preference changed remotely", "key", key)
			s.notify(key)
		}
	}()
	return nil
}

func (s *Store) notify(key string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}
