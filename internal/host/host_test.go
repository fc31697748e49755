package host

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipmgw/internal/prefs"
)

func newTestState(t *testing.T, now time.Time) *State {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := prefs.NewStore(prefs.NewMemoryBackend(), Defaults(), logger)
	require.NoError(t, err)
	return New(store, func() time.Time { return now }, logger)
}

func TestDefaults(t *testing.T) {
	s := newTestState(t, time.Now())
	ctx := context.Background()

	premium, err := s.PremiumActive(ctx)
	require.NoError(t, err)
	assert.False(t, premium)

	ignored, err := s.IgnoredCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, ignored)

	off, err := s.DataCollectionOptOut(ctx)
	require.NoError(t, err)
	assert.False(t, off)
}

func TestSetIgnoredCategoriesDedupes(t *testing.T) {
	s := newTestState(t, time.Now())
	ctx := context.Background()

	require.NoError(t, s.SetIgnoredCategories(ctx, []string{" newsletter", "*", "newsletter", ""}))
	got, err := s.IgnoredCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"*", "newsletter"}, got)
}

func TestInstallationIDIsStable(t *testing.T) {
	s := newTestState(t, time.Now())
	ctx := context.Background()

	first, err := s.InstallationID(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 36)
	second, err := s.InstallationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllowlistingTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestState(t, now)
	ctx := context.Background()

	_, err := s.Allowlist(ctx, "Example.COM.", "", time.Time{})
	require.NoError(t, err)
	_, err = s.Allowlist(ctx, "user.org", "user", now.Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a", true},
		{"https://www.example.com/", true},
		{"https://notexample.com/", false},
		{"https://user.org/", false},
		{"about:blank", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			at, ok, err := s.AllowlistingTime(ctx, tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.True(t, at.Equal(now.Truncate(time.Millisecond)))
			}
		})
	}
}

func TestRemoveAllowlisting(t *testing.T) {
	s := newTestState(t, time.Now())
	ctx := context.Background()

	_, err := s.Allowlist(ctx, "example.com", OriginWeb, time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.RemoveAllowlisting(ctx, "example.com"))
	assert.ErrorIs(t, s.RemoveAllowlisting(ctx, "example.com"), ErrNotAllowlisted)

	_, err = s.Allowlist(ctx, "not a domain", OriginWeb, time.Time{})
	assert.Error(t, err)
}
