// Package newtab implements the create_tab command: once a user opens a
// new browser tab, the command's target page is opened next to it.
package newtab

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattjoyce/ipmgw/internal/ipm"
)

// Event types recorded for create_tab commands.
const (
	EventCreated          = "tab_created"
	EventNoBehavior       = "error_no_behavior"
	EventLicenseNoMatch   = "license_state_no_match"
	EventNoURL            = "error_no_url"
	EventCreationError    = "tab_creation_error"
	EventAdminInstallExit = "newtab_admin"
)

// Behavior is the decoded create_tab command.
type Behavior struct {
	Target           string `json:"target"`
	LicenseStateList string `json:"licenseStateList"`
}

// Tab is the subset of tab state the manager needs.
type Tab struct {
	ID     int
	URL    string
	Status string
}

type CommandSource interface {
	Behavior(ctx context.Context, ipmID string) (any, error)
	Dismiss(ctx context.Context, ipmID string) error
}

type LicenseSource interface {
	PremiumActive(ctx context.Context) (bool, error)
}

type TabOpener interface {
	OpenTab(ctx context.Context, url string) error
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, ipmID, commandName, eventType string) error
}

// Actor shapes create_tab commands.
type Actor struct {
	handler ipm.Handler
	params  []ipm.ParamDefinition
	logger  *slog.Logger
}

func NewActor(policy *ipm.OriginPolicy, handler ipm.Handler, logger *slog.Logger) *Actor {
	return &Actor{
		handler: handler,
		logger:  logger.With("component", "new-tab"),
		params: []ipm.ParamDefinition{
			{Name: "url", Validate: policy.IsSafeURL},
			{Name: "license_state_list", Validate: ipm.IsValidLicenseStateList},
		},
	}
}

func (a *Actor) IsValidCommand(cmd ipm.Command) bool {
	if errs := ipm.ValidateParams(cmd, a.params); len(errs) > 0 {
		a.logger.Error("invalid parameters received", "ipm_id", cmd.ID(), "errors", strings.Join(errs, " "))
		return false
	}
	return true
}

func (a *Actor) Behavior(_ context.Context, cmd ipm.Command) (any, bool) {
	if !a.IsValidCommand(cmd) {
		return nil, false
	}
	b := &Behavior{LicenseStateList: string(ipm.DefaultLicenseState)}
	b.Target, _ = cmd.String("url")
	if list, ok := cmd.String("license_state_list"); ok {
		b.LicenseStateList = list
	}
	return b, true
}

func (a *Actor) Content(ipm.Command) (any, bool) {
	return map[string]any{}, true
}

func (a *Actor) HandleCommand(ctx context.Context, ipmID string) error {
	return a.handler(ctx, ipmID)
}

// Manager waits for new tabs on behalf of pending create_tab commands.
type Manager struct {
	commands    CommandSource
	license     LicenseSource
	opener      TabOpener
	events      EventRecorder
	policy      *ipm.OriginPolicy
	installType string
	logger      *slog.Logger

	mu      sync.Mutex
	pending []string
	newTabs map[int]bool
}

func NewManager(commands CommandSource, license LicenseSource, opener TabOpener, events EventRecorder,
	policy *ipm.OriginPolicy, installType string, logger *slog.Logger) *Manager {
	return &Manager{
		commands:    commands,
		license:     license,
		opener:      opener,
		events:      events,
		policy:      policy,
		installType: installType,
		logger:      logger.With("component", "new-tab"),
		newTabs:     make(map[int]bool),
	}
}

// HandleCommand starts waiting for a new tab. Admin installations never
// get tabs opened for them.
func (m *Manager) HandleCommand(ctx context.Context, ipmID string) error {
	if m.installType == "admin" {
		m.record(ctx, ipmID, EventAdminInstallExit)
		return m.commands.Dismiss(ctx, ipmID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.pending {
		if id == ipmID {
			return nil
		}
	}
	m.pending = append(m.pending, ipmID)
	m.logger.Debug("waiting for new tab", "ipm_id", ipmID)
	return nil
}

// Pending returns the commands waiting for a new tab.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pending...)
}

// TabCreated tracks a freshly opened tab. Browsers that load their new tab
// page immediately report it here and trigger the commands right away.
func (m *Manager) TabCreated(ctx context.Context, tab Tab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	if tab.URL == "about:newtab" {
		return m.openAll(ctx)
	}
	m.newTabs[tab.ID] = true
	return nil
}

// TabUpdated triggers the commands when a tracked tab finishes loading a
// page that is not part of regular browsing.
func (m *Manager) TabUpdated(ctx context.Context, tab Tab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.newTabs[tab.ID] || tab.Status != "complete" {
		return nil
	}
	delete(m.newTabs, tab.ID)
	if tab.URL == "" || strings.HasPrefix(tab.URL, "http://") || strings.HasPrefix(tab.URL, "https://") {
		return nil
	}
	return m.openAll(ctx)
}

func (m *Manager) TabRemoved(tabID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.newTabs, tabID)
}

// Drop stops waiting for the given commands.
func (m *Manager) Drop(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.removePending(id)
	}
	return nil
}

func (m *Manager) openAll(ctx context.Context) error {
	ids := m.pending
	m.pending = nil
	clear(m.newTabs)

	var errs []error
	for _, id := range ids {
		if err := m.open(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) open(ctx context.Context, ipmID string) error {
	logger := m.logger.With("ipm_id", ipmID)

	raw, err := m.commands.Behavior(ctx, ipmID)
	if err != nil {
		m.pending = append(m.pending, ipmID)
		return err
	}
	b, ok := raw.(*Behavior)
	if !ok || b == nil {
		logger.Debug("invalid command behavior")
		m.record(ctx, ipmID, EventNoBehavior)
		return m.commands.Dismiss(ctx, ipmID)
	}

	premium, err := m.license.PremiumActive(ctx)
	if err != nil {
		m.pending = append(m.pending, ipmID)
		return err
	}
	if !ipm.LicenseStateMatches(b.LicenseStateList, premium) {
		logger.Debug("license state mismatch")
		m.record(ctx, ipmID, EventLicenseNoMatch)
		return m.commands.Dismiss(ctx, ipmID)
	}

	target, ok := m.policy.SafeURL(b.Target)
	if !ok {
		logger.Debug("invalid target url")
		m.record(ctx, ipmID, EventNoURL)
		return m.commands.Dismiss(ctx, ipmID)
	}

	if err := m.opener.OpenTab(ctx, target); err != nil {
		logger.Error("create tab error", "error", err)
		m.record(ctx, ipmID, EventCreationError)
		m.pending = append(m.pending, ipmID)
		return nil
	}
	logger.Info("new tab opened", "url", target)
	m.record(ctx, ipmID, EventCreated)
	return m.commands.Dismiss(ctx, ipmID)
}

func (m *Manager) removePending(id string) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) record(ctx context.Context, ipmID, event string) {
	if m.events == nil {
		return
	}
	if err := m.events.RecordEvent(ctx, ipmID, ipm.CommandCreateTab, event); err != nil {
		m.logger.Warn("record new tab event", "ipm_id", ipmID, "event", event, "error", err)
	}
}
