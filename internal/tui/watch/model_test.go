package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipmgw/internal/events"
)

func event(t *testing.T, typ string, data any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{Type: typ, Data: raw, At: time.Now()}
}

func TestDialogStateFollowsLifecycle(t *testing.T) {
	dialogs := map[string]*DialogState{}

	updateDialogState(dialogs, event(t, "dialog.assigned", map[string]any{"dialog_id": "d1", "tab_id": 7, "display_count": 1}))
	require.Contains(t, dialogs, "d1")
	assert.Equal(t, 7, dialogs["d1"].TabID)
	assert.Equal(t, 1, dialogs["d1"].DisplayCount)

	updateDialogState(dialogs, event(t, "dialog.terminated", map[string]any{"dialog_id": "d1", "tab_id": 7, "event": "dialog_closed"}))
	assert.Equal(t, -1, dialogs["d1"].TabID)
	assert.Equal(t, "dialog_closed", dialogs["d1"].LastOutcome)

	updateDialogState(dialogs, event(t, "dialog.dismissed", map[string]any{"dialog_id": "d1"}))
	assert.True(t, dialogs["d1"].Dismissed)

	updateDialogState(dialogs, event(t, "tab.message", map[string]any{"tab_id": 7}))
	updateDialogState(dialogs, event(t, "dialog.assigned", map[string]any{"tab_id": 7}))
	assert.Len(t, dialogs, 1)
}

func TestSortedDialogIDsShownFirst(t *testing.T) {
	dialogs := map[string]*DialogState{
		"a": {ID: "a", TabID: -1},
		"b": {ID: "b", TabID: 3},
		"c": {ID: "c", TabID: -1},
	}
	assert.Equal(t, []string{"b", "a", "c"}, sortedDialogIDs(dialogs))
}

func TestScheduleStateCountsFires(t *testing.T) {
	schedules := map[string]*ScheduleState{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	updateScheduleState(schedules, event(t, "scheduler.fired", map[string]any{"schedule": "ping", "at": at}))
	updateScheduleState(schedules, event(t, "scheduler.fired", map[string]any{"schedule": "ping", "at": at}))
	updateScheduleState(schedules, event(t, "dialog.assigned", map[string]any{"schedule": "ping"}))

	require.Contains(t, schedules, "ping")
	assert.Equal(t, 2, schedules["ping"].Fired)
	assert.True(t, at.Equal(schedules["ping"].LastFired))
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 4",
		"event: dialog.assigned",
		`data: {"dialog_id":"d1","tab_id":2}`,
		"",
		"id: 5",
		"event: tab.open",
		`data: {"url":"https://example.com/"}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readSSE(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, "dialog.assigned", got[0].Type)
	assert.Equal(t, "tab.open", got[1].Type)
	assert.JSONEq(t, `{"url":"https://example.com/"}`, string(got[1].Data))
}

func TestReadSSEFrameEndings(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"closed by blank line", "event: tab.css\ndata: {\"tab_id\":1}\n\n"},
		{"stream ends after data line", "event: tab.css\ndata: {\"tab_id\":1}\n"},
		{"no trailing newline", "event: tab.css\ndata: {\"tab_id\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan events.Event, 4)
			readSSE(bufio.NewScanner(strings.NewReader(tt.stream)), ch)
			close(ch)

			var got []events.Event
			for e := range ch {
				got = append(got, e)
			}
			require.Len(t, got, 1)
			assert.Equal(t, "tab.css", got[0].Type)
			assert.False(t, got[0].At.IsZero())
		})
	}
}

func TestModelAppliesEvents(t *testing.T) {
	m := New("http://localhost:0", "key")
	for i := 0; i < maxEventLog+5; i++ {
		m.applyEvent(event(t, "tab.css", map[string]any{"tab_id": i}))
	}
	m.applyEvent(event(t, "dialog.assigned", map[string]any{"dialog_id": "d1", "tab_id": 1}))

	assert.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, "dialog.assigned", m.eventLog[0].Type)
	assert.Contains(t, m.dialogs, "d1")
	assert.True(t, m.health.Connected)

	m.width = 100
	view := m.View()
	assert.Contains(t, view, "IPMGW WATCH")
	assert.Contains(t, view, "d1")
}

func TestExtractEventDesc(t *testing.T) {
	e := event(t, "tab.message", map[string]any{
		"tab_id":  3,
		"message": map[string]any{"type": "onpage-dialog.show"},
	})
	assert.Equal(t, "tab=3 onpage-dialog.show", extractEventDesc(e))

	e = event(t, "dialog.terminated", map[string]any{"dialog_id": "d1", "event": "dialog_ignored"})
	assert.Equal(t, "[d1] dialog_ignored", extractEventDesc(e))
}

func TestDismissSelectedDialog(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := New(srv.URL, "key")
	m.applyEvent(event(t, "dialog.assigned", map[string]any{"dialog_id": "d1", "tab_id": 1}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, dismissedMsg("d1"), msg)
	assert.Equal(t, "/commands/d1", gotPath)
	assert.Equal(t, "Bearer key", gotAuth)

	next, _ := m.Update(msg)
	updated := next.(Model)
	updated.width = 100
	assert.Contains(t, updated.View(), "dismissed d1")
}

func TestDismissSkipsDismissedDialog(t *testing.T) {
	m := New("http://localhost:0", "key")
	m.applyEvent(event(t, "dialog.dismissed", map[string]any{"dialog_id": "d1"}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	assert.Nil(t, cmd)
}
