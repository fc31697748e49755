package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readSSE collects "event:" lines until n are seen or the stream ends.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var types []string
	for len(types) < n && sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			types = append(types, v)
		}
	}
	return types
}

func TestEventsStreamReplaysAndFilters(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	env.hub.Publish("dialog.assigned", map[string]any{"tab_id": 1})
	env.hub.Publish("tab.message", map[string]any{"tab_id": 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?prefix=tab.", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+shimToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"tab.message"}, readSSE(t, sc, 1))

	env.hub.Publish("dialog.terminated", nil)
	env.hub.Publish("tab.open", map[string]any{"url": "https://adblockplus.org/"})
	assert.Equal(t, []string{"tab.open"}, readSSE(t, sc, 1))
}

func TestEventsLastEventID(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	first := env.hub.Publish("tab.css", nil)
	env.hub.Publish("tab.message", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	req.Header.Set("Last-Event-ID", strconv.FormatInt(first.ID, 10))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"tab.message"}, readSSE(t, bufio.NewScanner(resp.Body), 1))
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
