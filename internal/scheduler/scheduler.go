package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/ipmgw/internal/events"
	"github.com/mattjoyce/ipmgw/internal/prefs"
)

// Entry is a persisted interval schedule. Times are epoch milliseconds.
type Entry struct {
	Interval int64 `json:"interval"`
	LastRun  int64 `json:"last_run"`
}

// Listener runs when the schedule it is registered for is due.
type Listener = func(ctx context.Context, name string)

// Scheduler fires named interval schedules. Schedules survive restarts;
// listeners are registered by their owners on every start.
type Scheduler struct {
	store  ScheduleStore
	every  time.Duration
	events *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	listeners map[string]Listener

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Scheduler that checks for due schedules every tick.
func New(store ScheduleStore, tick time.Duration, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		store:     store,
		every:     tick,
		events:    hub,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		listeners: make(map[string]Listener),
		stopCh:    make(chan struct{}),
	}
}

// SetListener registers fn for the schedule name, replacing any previous one.
func (s *Scheduler) SetListener(name string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[name] = fn
}

// HasSchedule reports whether a schedule called name is persisted.
func (s *Scheduler) HasSchedule(ctx context.Context, name string) (bool, error) {
	entries, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := entries[name]
	return ok, nil
}

// SetSchedule creates or replaces an interval schedule. The first run is
// one interval from now.
func (s *Scheduler) SetSchedule(ctx context.Context, name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	entries[name] = Entry{Interval: interval.Milliseconds(), LastRun: s.now().UnixMilli()}
	if err := s.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("save schedule %q: %w", name, err)
	}
	s.logger.Info("Schedule set", "schedule", name, "interval", interval.String())
	return nil
}

// RemoveSchedule deletes the schedule called name, if present.
func (s *Scheduler) RemoveSchedule(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return s.store.Save(ctx, entries)
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "tick", s.every.String())
	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.RunDue(ctx)

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunDue(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// RunDue fires every due schedule that has a listener and records its run.
// The tick loop calls it on every tick.
func (s *Scheduler) RunDue(ctx context.Context) {
	s.logger.Debug("Scheduler tick")

	entries, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to load schedules", "error", err)
		return
	}

	// Sorted for deterministic firing order.
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now()
	var fired []string
	for _, name := range names {
		entry := entries[name]
		if !due(entry, now) {
			continue
		}
		s.mu.Lock()
		fn := s.listeners[name]
		s.mu.Unlock()
		if fn == nil {
			s.logger.Debug("Schedule due without listener", "schedule", name)
			continue
		}

		fn(ctx, name)
		fired = append(fired, name)
		s.events.Publish("scheduler.fired", map[string]any{
			"schedule": name,
			"at":       now.UTC(),
		})
		s.logger.Info("Fired schedule", "schedule", name)
	}
	if len(fired) == 0 {
		return
	}

	// Reload so listeners that changed schedules are not overwritten.
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to reload schedules", "error", err)
		return
	}
	for _, name := range fired {
		entry, ok := latest[name]
		if !ok {
			continue
		}
		entry.LastRun = now.UnixMilli()
		latest[name] = entry
	}
	if err := s.store.Save(ctx, latest); err != nil {
		s.logger.Error("Failed to record schedule runs", "error", err)
	}
}

func due(e Entry, now time.Time) bool {
	if e.Interval <= 0 {
		return false
	}
	return now.UnixMilli()-e.LastRun >= e.Interval
}

// PrefsStore keeps schedules in the preference store.
type PrefsStore struct {
	prefs *prefs.Store
}

func NewPrefsStore(store *prefs.Store) *PrefsStore {
	return &PrefsStore{prefs: store}
}

func (p *PrefsStore) Load(ctx context.Context) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	if _, err := p.prefs.Get(ctx, prefs.KeySchedules, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return entries, nil
}

func (p *PrefsStore) Save(ctx context.Context, entries map[string]Entry) error {
	return p.prefs.Set(ctx, prefs.KeySchedules, entries)
}
