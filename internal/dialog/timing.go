package dialog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/ipmgw/internal/domainlist"
	"github.com/mattjoyce/ipmgw/internal/prefs"
)

// AllowlistSource reports when the page at tabURL was allowlisted by the
// user. ok is false when no web-originated allowlisting applies.
type AllowlistSource interface {
	AllowlistingTime(ctx context.Context, tabURL string) (t time.Time, ok bool, err error)
}

// Timings holds the timing configurations and evaluates show and dismiss
// decisions against them.
type Timings struct {
	prefs     *prefs.Store
	allowlist AllowlistSource
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	configs map[Timing]TimingConfiguration
}

func NewTimings(store *prefs.Store, allowlist AllowlistSource, now func() time.Time, logger *slog.Logger) *Timings {
	if now == nil {
		now = time.Now
	}
	return &Timings{
		prefs:     store,
		allowlist: allowlist,
		now:       now,
		logger:    logger.With("component", "onpage-dialog"),
		configs:   make(map[Timing]TimingConfiguration),
	}
}

// Start loads the configurations and reloads them whenever the preference
// changes. The returned func stops listening.
func (t *Timings) Start(ctx context.Context) (func(), error) {
	if err := t.reload(ctx); err != nil {
		return nil, err
	}
	return t.prefs.On(prefs.KeyTimings, func(string) {
		if err := t.reload(context.Background()); err != nil {
			t.logger.Error("reload timing configurations", "error", err)
		}
	}), nil
}

func (t *Timings) reload(ctx context.Context) error {
	var raw map[string]json.RawMessage
	if _, err := t.prefs.Get(ctx, prefs.KeyTimings, &raw); err != nil {
		return err
	}
	configs := make(map[Timing]TimingConfiguration, len(raw))
	for name, value := range raw {
		cfg, ok := parseTimingConfiguration(value)
		if !IsTiming(name) || !ok {
			t.logger.Warn("unknown timing configuration", "timing", name)
			continue
		}
		configs[Timing(name)] = cfg
	}
	t.mu.Lock()
	t.configs = configs
	t.mu.Unlock()
	t.logger.Debug("timing configurations loaded", "count", len(configs))
	return nil
}

// parseTimingConfiguration requires both cooldownDuration and maxDisplayCount.
func parseTimingConfiguration(raw json.RawMessage) (TimingConfiguration, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return TimingConfiguration{}, false
	}
	if _, ok := probe["cooldownDuration"]; !ok {
		return TimingConfiguration{}, false
	}
	if _, ok := probe["maxDisplayCount"]; !ok {
		return TimingConfiguration{}, false
	}
	var cfg TimingConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return TimingConfiguration{}, false
	}
	return cfg, true
}

// Config returns the configuration for timing.
func (t *Timings) Config(timing Timing) (TimingConfiguration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.configs[timing]
	return cfg, ok
}

// ShouldBeDismissed reports whether a dialog has reached its display cap.
// Unknown timings are always dismissed.
func (t *Timings) ShouldBeDismissed(timing Timing, stats Stats) bool {
	cfg, ok := t.Config(timing)
	if !ok {
		t.logger.Debug("unknown timing", "timing", timing)
		return true
	}
	return stats.DisplayCount >= cfg.MaxDisplayCount
}

// ShouldBeShown reports whether the dialog may be shown on tab now.
func (t *Timings) ShouldBeShown(ctx context.Context, b Behavior, tab Tab, stats Stats) (bool, error) {
	if t.ShouldBeDismissed(b.Timing, stats) {
		return false, nil
	}
	if b.Timing.AllowlistingRelated() {
		ok, err := t.allowlistingWindowOpen(ctx, b.Timing, tab, stats)
		if err != nil || !ok {
			return false, err
		}
	}
	return domainlist.IsActiveOnDomain(tab.URL, b.DomainList), nil
}

func (t *Timings) allowlistingWindowOpen(ctx context.Context, timing Timing, tab Tab, stats Stats) (bool, error) {
	cfg, ok := t.Config(timing)
	if !ok {
		return false, nil
	}
	if t.allowlist == nil {
		return false, nil
	}
	at, ok, err := t.allowlist.AllowlistingTime(ctx, tab.URL)
	if err != nil || !ok {
		return false, err
	}

	now := t.now()
	age := now.Sub(at)
	if cfg.MaxAllowlistingDelay != nil && age >= minutes(*cfg.MaxAllowlistingDelay) {
		t.logger.Debug("allowlisted too long ago", "tab_id", tab.ID)
		return false, nil
	}
	if cfg.MinAllowlistingDelay != nil && age < minutes(*cfg.MinAllowlistingDelay) {
		t.logger.Debug("allowlisted too recently", "tab_id", tab.ID)
		return false, nil
	}
	sinceShown := now.Sub(time.UnixMilli(stats.LastDisplayTime))
	if sinceShown < hours(cfg.CooldownDuration) {
		t.logger.Debug("dialog shown too recently", "tab_id", tab.ID)
		return false, nil
	}
	return true, nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
