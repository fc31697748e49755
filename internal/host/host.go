// Package host keeps the user and extension state the IPM engine consults:
// license, notification opt-outs, data collection and allowlisting.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/ipmgw/internal/domainlist"
	"github.com/mattjoyce/ipmgw/internal/prefs"
)

// OriginWeb marks allowlisting done by the user from a web page.
const OriginWeb = "web"

// AllowlistFilter records that a domain was allowlisted.
type AllowlistFilter struct {
	Domain  string `json:"domain"`
	Origin  string `json:"origin"`
	Created int64  `json:"created"` // epoch ms
}

// State reads and writes host state through the preference store.
type State struct {
	prefs  *prefs.Store
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

func New(store *prefs.Store, now func() time.Time, logger *slog.Logger) *State {
	if now == nil {
		now = time.Now
	}
	return &State{prefs: store, now: now, logger: logger.With("component", "host")}
}

// Defaults are the initial values of the keys owned by State.
func Defaults() map[string]any {
	return map[string]any{
		prefs.KeyPremium:           false,
		prefs.KeyIgnoredCategories: []string{},
		prefs.KeyDataCollectionOff: false,
		prefs.KeyAllowlisting:      []AllowlistFilter{},
	}
}

func (s *State) PremiumActive(ctx context.Context) (bool, error) {
	var active bool
	_, err := s.prefs.Get(ctx, prefs.KeyPremium, &active)
	return active, err
}

func (s *State) SetPremium(ctx context.Context, active bool) error {
	s.logger.Info("license state changed", "premium", active)
	return s.prefs.Set(ctx, prefs.KeyPremium, active)
}

func (s *State) IgnoredCategories(ctx context.Context) ([]string, error) {
	var categories []string
	_, err := s.prefs.Get(ctx, prefs.KeyIgnoredCategories, &categories)
	return categories, err
}

// SetIgnoredCategories replaces the ignored notification categories. "*"
// ignores all of them.
func (s *State) SetIgnoredCategories(ctx context.Context, categories []string) error {
	cleaned := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(cleaned, c) {
			cleaned = append(cleaned, c)
		}
	}
	sort.Strings(cleaned)
	return s.prefs.Set(ctx, prefs.KeyIgnoredCategories, cleaned)
}

func (s *State) DataCollectionOptOut(ctx context.Context) (bool, error) {
	var off bool
	_, err := s.prefs.Get(ctx, prefs.KeyDataCollectionOff, &off)
	return off, err
}

func (s *State) SetDataCollectionOptOut(ctx context.Context, off bool) error {
	return s.prefs.Set(ctx, prefs.KeyDataCollectionOff, off)
}

// InstallationID returns the persistent id of this installation, creating
// it on first use.
func (s *State) InstallationID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	if _, err := s.prefs.Get(ctx, prefs.KeyInstallationID, &id); err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.prefs.Set(ctx, prefs.KeyInstallationID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Allowlist adds or refreshes an allowlisting filter for domain. A zero
// created time means now.
func (s *State) Allowlist(ctx context.Context, domain, origin string, created time.Time) (AllowlistFilter, error) {
	domain = domainlist.NormalizeHost(strings.TrimSpace(domain))
	if !domainlist.IsValidHostname(domain) {
		return AllowlistFilter{}, fmt.Errorf("invalid domain %q", domain)
	}
	if origin == "" {
		origin = OriginWeb
	}
	if created.IsZero() {
		created = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	filters, err := s.filters(ctx)
	if err != nil {
		return AllowlistFilter{}, err
	}
	f := AllowlistFilter{Domain: domain, Origin: origin, Created: created.UnixMilli()}
	filters = slices.DeleteFunc(filters, func(x AllowlistFilter) bool { return x.Domain == domain })
	filters = append(filters, f)
	if err := s.prefs.Set(ctx, prefs.KeyAllowlisting, filters); err != nil {
		return AllowlistFilter{}, err
	}
	s.logger.Info("domain allowlisted", "domain", domain, "origin", origin)
	return f, nil
}

// ErrNotAllowlisted is returned when removing an unknown filter.
var ErrNotAllowlisted = errors.New("domain is not allowlisted")

func (s *State) RemoveAllowlisting(ctx context.Context, domain string) error {
	domain = domainlist.NormalizeHost(strings.TrimSpace(domain))

	s.mu.Lock()
	defer s.mu.Unlock()
	filters, err := s.filters(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(filters), func(x AllowlistFilter) bool { return x.Domain == domain })
	if len(kept) == len(filters) {
		return ErrNotAllowlisted
	}
	return s.prefs.Set(ctx, prefs.KeyAllowlisting, kept)
}

func (s *State) AllowlistFilters(ctx context.Context) ([]AllowlistFilter, error) {
	return s.filters(ctx)
}

// AllowlistingTime returns when the page at tabURL was allowlisted from the
// web. The most specific matching domain wins.
func (s *State) AllowlistingTime(ctx context.Context, tabURL string) (time.Time, bool, error) {
	u, err := url.Parse(tabURL)
	if err != nil || u.Hostname() == "" {
		return time.Time{}, false, nil
	}
	filters, err := s.filters(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	byDomain := make(map[string]AllowlistFilter, len(filters))
	for _, f := range filters {
		byDomain[f.Domain] = f
	}
	for _, suffix := range domainlist.Suffixes(domainlist.NormalizeHost(u.Hostname())) {
		f, ok := byDomain[suffix]
		if !ok {
			continue
		}
		if f.Origin != OriginWeb {
			continue
		}
		return time.UnixMilli(f.Created), true, nil
	}
	return time.Time{}, false, nil
}

func (s *State) filters(ctx context.Context) ([]AllowlistFilter, error) {
	var filters []AllowlistFilter
	if _, err := s.prefs.Get(ctx, prefs.KeyAllowlisting, &filters); err != nil {
		return nil, err
	}
	return filters, nil
}
