package dialog

import (
	"context"
	"sync"

	"github.com/mattjoyce/ipmgw/internal/prefs"
)

// StatsStore persists Stats per dialog id. It holds no policy.
type StatsStore struct {
	prefs *prefs.Store
	mu    sync.Mutex
}

func NewStatsStore(store *prefs.Store) *StatsStore {
	return &StatsStore{prefs: store}
}

func (s *StatsStore) Get(ctx context.Context, id string) (Stats, bool, error) {
	all, err := s.load(ctx)
	if err != nil {
		return Stats{}, false, err
	}
	st, ok := all[id]
	return st, ok, nil
}

func (s *StatsStore) Set(ctx context.Context, id string, stats Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	all[id] = stats
	return s.prefs.Set(ctx, prefs.KeyDialogStats, all)
}

func (s *StatsStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := all[id]; !ok {
		return nil
	}
	delete(all, id)
	return s.prefs.Set(ctx, prefs.KeyDialogStats, all)
}

func (s *StatsStore) load(ctx context.Context) (map[string]Stats, error) {
	all := make(map[string]Stats)
	if _, err := s.prefs.Get(ctx, prefs.KeyDialogStats, &all); err != nil {
		return nil, err
	}
	if all == nil {
		all = make(map[string]Stats)
	}
	return all, nil
}
