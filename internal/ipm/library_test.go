package ipm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipmgw/internal/prefs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLibrary(t *testing.T) (*Library, *prefs.Store) {
	t.Helper()
	store, err := prefs.NewStore(prefs.NewMemoryBackend(), map[string]any{prefs.KeyCommands: map[string]any{}}, discardLogger())
	require.NoError(t, err)
	return NewLibrary(store, nil, discardLogger()), store
}

// recordingActor accepts every command and counts HandleCommand calls.
type recordingActor struct {
	mu       sync.Mutex
	handled  []string
	valid    bool
	failWith error
	// onHandle observes the store during dispatch.
	onHandle func(ipmID string)
}

func (a *recordingActor) Behavior(_ context.Context, cmd Command) (any, bool) {
	return cmd["timing"], true
}
func (a *recordingActor) Content(cmd Command) (any, bool) { return cmd["sub_title"], true }
func (a *recordingActor) IsValidCommand(Command) bool     { return a.valid }
func (a *recordingActor) HandleCommand(_ context.Context, ipmID string) error {
	a.mu.Lock()
	a.handled = append(a.handled, ipmID)
	a.mu.Unlock()
	if a.onHandle != nil {
		a.onHandle(ipmID)
	}
	return a.failWith
}
func (a *recordingActor) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.handled...)
}

func dialogCommand(id string) Command {
	return Command{
		"version":       3.0,
		"ipm_id":        id,
		"command_name":  CommandCreateOnPageDialog,
		"timing":        "after_navigation",
		"sub_title":     "Hi",
		"upper_body":    "Body",
		"button_label":  "Go",
		"button_target": "https://adblockplus.org/x",
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	actor := &recordingActor{valid: true}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)

	require.NoError(t, lib.Execute(ctx, dialogCommand("abc"), false))
	err := lib.Execute(ctx, dialogCommand("abc"), false)
	assert.ErrorIs(t, err, ErrDuplicateCommand)

	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, ids)
	assert.Equal(t, []string{"abc"}, actor.calls())
}

func TestExecuteRejections(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, &recordingActor{valid: false})

	cases := []struct {
		name string
		raw  any
		want error
	}{
		{"not an object", []byte(`[1,2]`), ErrMalformedCommand},
		{"missing ipm_id", map[string]any{"version": 3.0, "command_name": CommandCreateOnPageDialog}, ErrMalformedCommand},
		{"unknown name", Command{"version": 1.0, "ipm_id": "x", "command_name": "launch_rocket"}, ErrUnknownCommand},
		{"version mismatch", Command{"version": 2.0, "ipm_id": "x", "command_name": CommandCreateOnPageDialog}, ErrVersionMismatch},
		{"invalid params", dialogCommand("x"), ErrInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, lib.Execute(ctx, tc.raw, false), tc.want)
		})
	}

	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "rejected commands must never be persisted")
}

func TestExecuteFromJSON(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	actor := &recordingActor{valid: true}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)

	raw := []byte(`{"version":3,"ipm_id":"json-1","command_name":"create_on_page_dialog","timing":"after_navigation"}`)
	require.NoError(t, lib.Execute(ctx, raw, false))
	assert.Equal(t, []string{"json-1"}, actor.calls())

	b, err := lib.Behavior(ctx, "json-1")
	require.NoError(t, err)
	assert.Equal(t, "after_navigation", b)
}

func TestDeferredDispatchRunsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)

	require.NoError(t, lib.Execute(ctx, dialogCommand("early"), false))
	// Same command again while still pending is collapsed by ipm_id.
	require.NoError(t, lib.Execute(ctx, dialogCommand("early"), false))
	assert.Equal(t, 1, lib.PendingCount())

	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "deferred commands are not persisted")

	actor := &recordingActor{valid: true}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)
	assert.Equal(t, []string{"early"}, actor.calls())
	assert.Equal(t, 0, lib.PendingCount())

	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)
	assert.Equal(t, []string{"early"}, actor.calls())
}

func TestPersistBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)

	var storedDuringHandle bool
	actor := &recordingActor{valid: true, failWith: errors.New("boom")}
	actor.onHandle = func(ipmID string) {
		cmd, err := lib.Command(ctx, ipmID)
		storedDuringHandle = err == nil && cmd != nil
	}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)

	err := lib.Execute(ctx, dialogCommand("durable"), false)
	require.Error(t, err)
	assert.True(t, storedDuringHandle)

	cmd, err := lib.Command(ctx, "durable")
	require.NoError(t, err)
	assert.NotNil(t, cmd, "record survives a failing handler")
}

func TestReinitializeReplaysStoredCommands(t *testing.T) {
	ctx := context.Background()
	lib, store := newTestLibrary(t)
	first := &recordingActor{valid: true}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, first)
	require.NoError(t, lib.Execute(ctx, dialogCommand("a"), false))
	require.NoError(t, lib.Execute(ctx, dialogCommand("b"), false))

	// A fresh library over the same store, as after a restart.
	restarted := NewLibrary(store, nil, discardLogger())
	require.NoError(t, restarted.Reinitialize(ctx))
	assert.Equal(t, 2, restarted.PendingCount())

	second := &recordingActor{valid: true}
	restarted.SetCommandActor(ctx, CommandCreateOnPageDialog, second)
	assert.Equal(t, []string{"a", "b"}, second.calls())

	ids, err := restarted.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDismissAndLookups(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, &recordingActor{valid: true})
	require.NoError(t, lib.Execute(ctx, dialogCommand("abc"), false))

	content, err := lib.Content(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Hi", content)

	require.NoError(t, lib.Dismiss(ctx, "abc"))
	require.NoError(t, lib.Dismiss(ctx, "abc"))

	b, err := lib.Behavior(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, b)

	c, err := lib.Content(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)

	// After dismissal the id may be processed again.
	require.NoError(t, lib.Execute(ctx, dialogCommand("abc"), false))
}

func TestRegisteringActorDuringExecuteLosesNothing(t *testing.T) {
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	actor := &recordingActor{valid: true}

	const n = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			assert.NoError(t, lib.Execute(ctx, dialogCommand(fmt.Sprintf("c%02d", i)), false))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		lib.SetCommandActor(ctx, CommandCreateOnPageDialog, actor)
	}()
	close(start)
	wg.Wait()

	assert.Zero(t, lib.PendingCount(), "no command left waiting for a registered actor")
	assert.Len(t, actor.calls(), n)
	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, n)
}
