package dialog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipmgw/internal/ipm"
)

func newTestActor(t *testing.T) *Actor {
	t.Helper()
	policy, err := ipm.NewOriginPolicy("https://adblockplus.org", []string{"https://adblockplus.org"})
	require.NoError(t, err)
	return NewActor(policy, func(context.Context, string) error { return nil }, discardLogger())
}

func TestActorValidation(t *testing.T) {
	a := newTestActor(t)

	tests := []struct {
		name  string
		extra map[string]any
		valid bool
	}{
		{"minimal", nil, true},
		{"relative target", map[string]any{"button_target": "/premium"}, true},
		{"foreign target", map[string]any{"button_target": "https://evil.example/"}, false},
		{"immediate timing is local only", map[string]any{"timing": "immediate"}, false},
		{"unknown timing", map[string]any{"timing": "later"}, false},
		{"duration too long", map[string]any{"display_duration": 21}, false},
		{"duration zero", map[string]any{"display_duration": 0}, true},
		{"empty title", map[string]any{"sub_title": ""}, false},
		{"bad domain list", map[string]any{"domain_list": "exa mple.com"}, false},
		{"bad license list", map[string]any{"license_state_list": "gold"}, false},
		{"license list", map[string]any{"license_state_list": "premium,free"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ipm.ParseCommand(dialogCommand("abc", tt.extra))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, a.IsValidCommand(cmd))
		})
	}
}

func TestActorBehaviorDefaults(t *testing.T) {
	a := newTestActor(t)
	cmd, err := ipm.ParseCommand(dialogCommand("abc", nil))
	require.NoError(t, err)

	raw, ok := a.Behavior(context.Background(), cmd)
	require.True(t, ok)
	assert.Equal(t, &Behavior{
		DisplayDuration:  5,
		Target:           "https://adblockplus.org/x",
		Timing:           TimingAfterNavigation,
		LicenseStateList: "free",
	}, raw)

	content, ok := a.Content(cmd)
	require.True(t, ok)
	assert.Equal(t, &Content{Title: "Hi", Body: []string{"Body"}, Button: "Go"}, content)
}

func TestActorRejectsInvalidBehavior(t *testing.T) {
	a := newTestActor(t)
	cmd, err := ipm.ParseCommand(dialogCommand("abc", map[string]any{"upper_body": ""}))
	require.NoError(t, err)

	_, ok := a.Behavior(context.Background(), cmd)
	assert.False(t, ok)
	_, ok = a.Content(cmd)
	assert.False(t, ok)
}
