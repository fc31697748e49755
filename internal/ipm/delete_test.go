package ipm

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDropper struct {
	mu      sync.Mutex
	dropped []string
}

func (d *recordingDropper) Drop(_ context.Context, ids ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, ids...)
	return nil
}

func deleteCommand(id, commands string) Command {
	return Command{
		"version":      1.0,
		"ipm_id":       id,
		"command_name": CommandDeleteCommands,
		"commands":     commands,
	}
}

func setupDelete(t *testing.T) (*Library, *recordingDropper) {
	t.Helper()
	ctx := context.Background()
	lib, _ := newTestLibrary(t)
	dropper := &recordingDropper{}
	lib.SetCommandActor(ctx, CommandCreateOnPageDialog, &recordingActor{valid: true})
	lib.SetCommandActor(ctx, CommandDeleteCommands,
		NewDeleteActor(lib, NewDeleteHandler(lib, []Dropper{dropper}, discardLogger()), discardLogger()))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, lib.Execute(ctx, dialogCommand(id), false))
	}
	return lib, dropper
}

func TestDeleteAllRemovesEveryStoredCommand(t *testing.T) {
	ctx := context.Background()
	lib, dropper := setupDelete(t)

	require.NoError(t, lib.Execute(ctx, deleteCommand("del", " __all__ "), false))

	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	sort.Strings(dropper.dropped)
	assert.Equal(t, []string{"a", "b", "c", "del"}, dropper.dropped)
}

func TestDeleteListedCommands(t *testing.T) {
	ctx := context.Background()
	lib, dropper := setupDelete(t)

	require.NoError(t, lib.Execute(ctx, deleteCommand("del", "a, c ,unknown"), false))

	ids, err := lib.CommandIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	assert.Equal(t, []string{"a", "c", "unknown"}, dropper.dropped)
}

func TestDeleteRejectsBlankCommands(t *testing.T) {
	ctx := context.Background()
	lib, _ := setupDelete(t)

	err := lib.Execute(ctx, deleteCommand("del", "   "), false)
	assert.ErrorIs(t, err, ErrInvalidParams)
	err = lib.Execute(ctx, Command{"version": 1.0, "ipm_id": "del2", "command_name": CommandDeleteCommands}, false)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDeleteBehavior(t *testing.T) {
	ctx := context.Background()
	lib, _ := setupDelete(t)
	actor := NewDeleteActor(lib, nil, discardLogger())

	b, ok := actor.Behavior(ctx, deleteCommand("x", DeleteAllKey))
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, b.(*DeleteBehavior).CommandIDs)

	_, ok = actor.Behavior(ctx, deleteCommand("x", ""))
	assert.False(t, ok)
}
