package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/ipmgw/internal/events"
	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/protocol"
)

// ErrStopped is returned by Manager calls made after Stop.
var ErrStopped = errors.New("dialog manager stopped")

// CommandSource resolves stored IPM commands.
type CommandSource interface {
	Behavior(ctx context.Context, ipmID string) (any, error)
	Content(ctx context.Context, ipmID string) (any, error)
	Dismiss(ctx context.Context, ipmID string) error
}

// Host exposes user state that gates dialogs.
type Host interface {
	PremiumActive(ctx context.Context) (bool, error)
	IgnoredCategories(ctx context.Context) ([]string, error)
}

// Messenger delivers messages and side effects to browser tabs.
type Messenger interface {
	SendMessage(ctx context.Context, tabID int, msg protocol.Message) error
	InsertCSS(ctx context.Context, tabID int) error
	OpenTab(ctx context.Context, url string) error
}

// EventRecorder appends to the telemetry event log.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ipmID, commandName, eventType string) error
}

// Options configures a Manager. Commands, Stats, Timings and Messenger are required.
type Options struct {
	Commands  CommandSource
	Stats     *StatsStore
	Timings   *Timings
	Host      Host
	Messenger Messenger
	Events    EventRecorder
	Policy    *ipm.OriginPolicy
	Locale    protocol.LocaleInfo
	Platform  string
	Hub       *events.Hub
	Now       func() time.Time
	Logger    *slog.Logger
}

// Snapshot is a point-in-time copy of the manager's state.
type Snapshot struct {
	Unassigned []Dialog       `json:"unassigned"`
	Assigned   map[int]Dialog `json:"assigned"`
}

type request struct {
	fn   func(ctx context.Context) error
	ctx  context.Context
	done chan error
}

// Manager owns the unassigned dialog queue and the tab assignments. All
// state is touched only by the goroutine started in Start; callers submit
// work through the inbox and wait for its result.
type Manager struct {
	opts   Options
	logger *slog.Logger

	inbox  chan request
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// owned by run
	queue    []string
	dialogs  map[string]*Dialog
	assigned map[int]*Dialog
}

func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(128)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.With("component", "onpage-dialog"),
		inbox:    make(chan request),
		stopCh:   make(chan struct{}),
		dialogs:  make(map[string]*Dialog),
		assigned: make(map[int]*Dialog),
	}
}

// Start runs the manager loop until Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("Starting dialog manager")
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop ends the loop and waits for it to exit.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.logger.Info("Dialog manager stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case req := <-m.inbox:
			req.done <- req.fn(req.ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) do(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{fn: fn, ctx: ctx, done: make(chan error, 1)}
	select {
	case m.inbox <- req:
	case <-m.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-m.stopCh:
		return ErrStopped
	}
}

// HandleCommand queues the dialog of a stored create_on_page_dialog
// command. Stats are created only when missing so replays at startup keep
// earlier display counts and cooldowns.
func (m *Manager) HandleCommand(ctx context.Context, ipmID string) error {
	return m.do(ctx, func(ctx context.Context) error {
		d, err := m.commandDialog(ctx, ipmID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("no dialog behavior for command %s", ipmID)
		}
		if _, ok, err := m.opts.Stats.Get(ctx, d.ID); err != nil {
			return err
		} else if !ok {
			if err := m.opts.Stats.Set(ctx, d.ID, Stats{}); err != nil {
				return err
			}
		}
		m.enqueue(d)
		return nil
	})
}

// AddDialog queues a locally created dialog.
func (m *Manager) AddDialog(ctx context.Context, d Dialog) error {
	if d.ID == "" {
		return errors.New("dialog id is required")
	}
	return m.do(ctx, func(ctx context.Context) error {
		if _, ok, err := m.opts.Stats.Get(ctx, d.ID); err != nil {
			return err
		} else if !ok {
			if err := m.opts.Stats.Set(ctx, d.ID, Stats{}); err != nil {
				return err
			}
		}
		m.enqueue(&d)
		return nil
	})
}

// TabUpdated reacts to a navigation state change of tab.
func (m *Manager) TabUpdated(ctx context.Context, tab Tab) error {
	return m.do(ctx, func(ctx context.Context) error {
		if tab.Status == "loading" {
			if _, ok := m.assigned[tab.ID]; ok {
				return m.terminate(ctx, tab.ID, EventIgnored, false)
			}
			return nil
		}
		if len(m.queue) == 0 {
			m.logger.Debug("no dialog queued")
			return nil
		}
		if tab.Status != "complete" || tab.Incognito || !isWebURL(tab.URL) {
			return nil
		}

		var errs []error
		for _, id := range append([]string(nil), m.queue...) {
			d, ok := m.dialogs[id]
			if !ok {
				continue
			}
			if err := m.consider(ctx, tab, d); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// TabRemoved terminates the dialog shown in a closed tab.
func (m *Manager) TabRemoved(ctx context.Context, tabID int) error {
	return m.do(ctx, func(ctx context.Context) error {
		if _, ok := m.assigned[tabID]; !ok {
			return nil
		}
		return m.terminate(ctx, tabID, EventIgnored, false)
	})
}

// HandleMessage processes a content-script message sent from tabID. Only
// onpage-dialog.get returns a value.
func (m *Manager) HandleMessage(ctx context.Context, tabID int, msg protocol.Message) (any, error) {
	var reply any
	err := m.do(ctx, func(ctx context.Context) error {
		d, ok := m.assigned[tabID]
		if !ok {
			return nil
		}
		switch msg.Type {
		case protocol.TypeClose:
			return m.terminate(ctx, tabID, EventClosed, true)
		case protocol.TypeContinue:
			target, ok := m.safeTarget(d.Behavior.Target)
			if !ok {
				return nil
			}
			if err := m.opts.Messenger.OpenTab(ctx, target); err != nil {
				m.logger.Warn("open target tab", "tab_id", tabID, "error", err)
			}
			return m.terminate(ctx, tabID, EventButtonClicked, true)
		case protocol.TypePing:
			if d.Behavior.DisplayDuration == 0 || msg.DisplayDuration == nil ||
				*msg.DisplayDuration < d.Behavior.DisplayDuration {
				return nil
			}
			return m.terminate(ctx, tabID, EventIgnored, true)
		case protocol.TypeGet:
			reply = &protocol.StartInfo{Content: d.Content, LocaleInfo: m.opts.Locale}
			return nil
		case protocol.TypeResize:
			return m.opts.Messenger.SendMessage(ctx, tabID, msg)
		default:
			return fmt.Errorf("unsupported message type %q", msg.Type)
		}
	})
	return reply, err
}

// Drop forgets the given dialogs without recording events. Dialogs shown
// in a tab are hidden first.
func (m *Manager) Drop(ctx context.Context, ids ...string) error {
	return m.do(ctx, func(ctx context.Context) error {
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
			m.unqueue(id)
		}
		for tabID, d := range m.assigned {
			if !drop[d.ID] {
				continue
			}
			if err := m.opts.Messenger.SendMessage(ctx, tabID, protocol.HideMessage()); err != nil {
				m.logger.Debug("hide dropped dialog", "tab_id", tabID, "error", err)
			}
			delete(m.assigned, tabID)
		}
		var errs []error
		for _, id := range ids {
			if err := m.opts.Stats.Clear(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Snapshot returns a copy of the queue and the assignments.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.do(ctx, func(context.Context) error {
		snap.Unassigned = make([]Dialog, 0, len(m.queue))
		for _, id := range m.queue {
			snap.Unassigned = append(snap.Unassigned, *m.dialogs[id])
		}
		snap.Assigned = make(map[int]Dialog, len(m.assigned))
		for tabID, d := range m.assigned {
			snap.Assigned[tabID] = *d
		}
		return nil
	})
	return snap, err
}

func (m *Manager) consider(ctx context.Context, tab Tab, d *Dialog) error {
	logger := m.logger.With("dialog_id", d.ID, "tab_id", tab.ID)

	if m.opts.Host != nil {
		premium, err := m.opts.Host.PremiumActive(ctx)
		if err != nil {
			return err
		}
		if !ipm.LicenseStateMatches(d.Behavior.LicenseStateList, premium) {
			logger.Debug("license state does not match")
			return m.dismiss(ctx, d)
		}
		ignored, err := m.opts.Host.IgnoredCategories(ctx)
		if err != nil {
			return err
		}
		for _, c := range ignored {
			if c == "*" {
				logger.Debug("user ignores notifications")
				return m.dismiss(ctx, d)
			}
		}
	}

	stats, ok, err := m.opts.Stats.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("no dialog stats")
		return m.dismiss(ctx, d)
	}

	if _, busy := m.assigned[tab.ID]; busy {
		logger.Debug("tab already has a dialog")
		return m.dismiss(ctx, d)
	}

	show, err := m.opts.Timings.ShouldBeShown(ctx, d.Behavior, tab, stats)
	if err != nil {
		return err
	}
	if !show {
		if m.opts.Timings.ShouldBeDismissed(d.Behavior.Timing, stats) {
			logger.Debug("no more dialogs to show")
			return m.dismiss(ctx, d)
		}
		logger.Debug("dialog not shown")
		return nil
	}
	return m.show(ctx, tab.ID, d, stats)
}

func (m *Manager) show(ctx context.Context, tabID int, d *Dialog, stats Stats) error {
	m.unqueue(d.ID)
	m.assigned[tabID] = d

	next := Stats{DisplayCount: stats.DisplayCount + 1, LastDisplayTime: m.opts.Now().UnixMilli()}
	if err := m.opts.Stats.Set(ctx, d.ID, next); err != nil {
		m.rollback(tabID, d)
		return err
	}

	deliver := func() error {
		if err := m.opts.Messenger.InsertCSS(ctx, tabID); err != nil {
			return err
		}
		return m.opts.Messenger.SendMessage(ctx, tabID, protocol.ShowMessage(m.opts.Platform))
	}
	if err := deliver(); err != nil {
		m.rollback(tabID, d)
		if serr := m.opts.Stats.Set(ctx, d.ID, stats); serr != nil {
			err = errors.Join(err, serr)
		}
		return fmt.Errorf("deliver dialog %s to tab %d: %w", d.ID, tabID, err)
	}

	m.logger.Info("dialog shown", "dialog_id", d.ID, "tab_id", tabID, "display_count", next.DisplayCount)
	m.record(ctx, d, EventInjected)
	m.opts.Hub.Publish("dialog.assigned", map[string]any{
		"dialog_id":     d.ID,
		"tab_id":        tabID,
		"display_count": next.DisplayCount,
	})
	return nil
}

func (m *Manager) rollback(tabID int, d *Dialog) {
	delete(m.assigned, tabID)
	m.enqueue(d)
}

// terminate ends the assignment of tabID. The dialog returns to the queue
// unless its display cap has been reached.
func (m *Manager) terminate(ctx context.Context, tabID int, event EventType, hide bool) error {
	d := m.assigned[tabID]
	if hide {
		if err := m.opts.Messenger.SendMessage(ctx, tabID, protocol.HideMessage()); err != nil {
			m.logger.Debug("hide dialog", "tab_id", tabID, "error", err)
		}
	}
	delete(m.assigned, tabID)
	m.record(ctx, d, event)
	m.opts.Hub.Publish("dialog.terminated", map[string]any{
		"dialog_id": d.ID,
		"tab_id":    tabID,
		"event":     string(event),
	})

	stats, ok, err := m.opts.Stats.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if !ok || m.opts.Timings.ShouldBeDismissed(d.Behavior.Timing, stats) {
		return m.dismiss(ctx, d)
	}
	m.logger.Debug("keep dialog active", "dialog_id", d.ID)
	m.enqueue(d)
	return nil
}

// dismiss removes d for good: from the queue, its command and its stats.
func (m *Manager) dismiss(ctx context.Context, d *Dialog) error {
	m.unqueue(d.ID)
	var errs []error
	if d.IPMID != "" {
		if err := m.opts.Commands.Dismiss(ctx, d.IPMID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.opts.Stats.Clear(ctx, d.ID); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("dialog dismissed", "dialog_id", d.ID)
	m.opts.Hub.Publish("dialog.dismissed", map[string]any{"dialog_id": d.ID})
	return errors.Join(errs...)
}

func (m *Manager) record(ctx context.Context, d *Dialog, event EventType) {
	if d.IPMID == "" || m.opts.Events == nil {
		return
	}
	if err := m.opts.Events.RecordEvent(ctx, d.IPMID, ipm.CommandCreateOnPageDialog, string(event)); err != nil {
		m.logger.Warn("record dialog event", "ipm_id", d.IPMID, "event", event, "error", err)
	}
}

func (m *Manager) enqueue(d *Dialog) {
	if _, ok := m.dialogs[d.ID]; !ok {
		m.queue = append(m.queue, d.ID)
	}
	m.dialogs[d.ID] = d
}

func (m *Manager) unqueue(id string) {
	if _, ok := m.dialogs[id]; !ok {
		return
	}
	delete(m.dialogs, id)
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

func (m *Manager) commandDialog(ctx context.Context, ipmID string) (*Dialog, error) {
	rawBehavior, err := m.opts.Commands.Behavior(ctx, ipmID)
	if err != nil {
		return nil, err
	}
	behavior, ok := rawBehavior.(*Behavior)
	if !ok || behavior == nil {
		return nil, nil
	}
	rawContent, err := m.opts.Commands.Content(ctx, ipmID)
	if err != nil {
		return nil, err
	}
	content, _ := rawContent.(*Content)
	d := &Dialog{ID: ipmID, IPMID: ipmID, Behavior: *behavior}
	if content != nil {
		d.Content = *content
	}
	return d, nil
}

func (m *Manager) safeTarget(target string) (string, bool) {
	if m.opts.Policy == nil {
		return target, target != ""
	}
	return m.opts.Policy.SafeURL(target)
}

func isWebURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
