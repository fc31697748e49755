package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/ipmgw/internal/api"
	"github.com/mattjoyce/ipmgw/internal/app"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/ipm"
)

const (
	adminKey   = "admin-key"
	pushSecret = "push-secret"
)

// ipmServer records pings and answers the first one with a dialog command.
type ipmServer struct {
	mu    sync.Mutex
	pings []map[string]any
}

func (s *ipmServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings = append(s.pings, body)
	if len(s.pings) == 1 {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":       3,
			"ipm_id":        "abc",
			"command_name":  ipm.CommandCreateOnPageDialog,
			"timing":        "after_navigation",
			"sub_title":     "Hi",
			"upper_body":    "Body",
			"lower_body":    "More",
			"button_label":  "Go",
			"button_target": "https://adblockplus.org/x",
		})
	}
}

func (s *ipmServer) last() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings[len(s.pings)-1]
}

type client struct {
	t    *testing.T
	base string
}

func (c client) call(method, path string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+adminKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestDialogLifecycleEndToEnd(t *testing.T) {
	ipmSrv := &ipmServer{}
	ipmHTTP := httptest.NewServer(ipmSrv)
	defer ipmHTTP.Close()

	cfg := config.Defaults()
	cfg.State.Backend = "sqlite"
	cfg.State.Path = filepath.Join(t.TempDir(), "prefs.db")
	cfg.IPM.ServerURL = ipmHTTP.URL
	cfg.IPM.PushSecret = pushSecret
	cfg.API.Enabled = true
	cfg.API.Auth.APIKey = adminKey

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Build(ctx, cfg, app.Options{}, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	apiHTTP := httptest.NewServer(a.API.Handler())
	defer apiHTTP.Close()
	c := client{t: t, base: apiHTTP.URL}

	// 1. The first ping delivered the dialog command.
	var list api.CommandListResponse
	if code := c.call(http.MethodGet, "/commands", nil, &list); code != http.StatusOK {
		t.Fatalf("GET /commands = %d", code)
	}
	if len(list.Commands) != 1 || list.Commands[0] != "abc" {
		t.Fatalf("commands = %v", list.Commands)
	}

	// 2. A navigation shows it on the tab.
	if code := c.call(http.MethodPost, "/tabs/7/updated", api.TabUpdateRequest{Status: "complete", URL: "https://example.com/"}, nil); code != http.StatusNoContent {
		t.Fatalf("tab updated = %d", code)
	}
	var dialogs api.DialogsResponse
	c.call(http.MethodGet, "/dialogs", nil, &dialogs)
	if dialogs.Assigned[7].ID != "abc" {
		t.Fatalf("tab 7 not assigned: %+v", dialogs)
	}

	// 3. The content script fetches the content and closes the dialog.
	var got struct {
		Response struct {
			Content struct {
				Title string   `json:"title"`
				Body  []string `json:"body"`
			} `json:"content"`
		} `json:"response"`
	}
	c.call(http.MethodPost, "/tabs/7/messages", map[string]any{"type": "onpage-dialog.get"}, &got)
	if got.Response.Content.Title != "Hi" || len(got.Response.Content.Body) != 2 {
		t.Fatalf("start info = %+v", got.Response)
	}
	if code := c.call(http.MethodPost, "/tabs/7/messages", map[string]any{"type": "onpage-dialog.close"}, nil); code != http.StatusOK {
		t.Fatalf("close = %d", code)
	}
	var afterClose api.DialogsResponse
	c.call(http.MethodGet, "/dialogs", nil, &afterClose)
	if _, ok := afterClose.Assigned[7]; ok {
		t.Fatal("dialog still assigned after close")
	}

	// 4. The IPM server pushes delete_commands __all__.
	push, _ := json.Marshal(map[string]any{
		"version":      1,
		"ipm_id":       "del-1",
		"command_name": ipm.CommandDeleteCommands,
		"commands":     ipm.DeleteAllKey,
	})
	req, _ := http.NewRequest(http.MethodPost, apiHTTP.URL+"/ipm/push", bytes.NewReader(push))
	req.Header.Set(api.SignatureHeader, api.Sign(push, pushSecret))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("push = %d", resp.StatusCode)
	}
	c.call(http.MethodGet, "/commands", nil, &list)
	if len(list.Commands) != 0 {
		t.Fatalf("commands after delete = %v", list.Commands)
	}

	// 5. The next ping reports what the user did.
	if err := a.Telemetry.SendPing(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	events, _ := ipmSrv.last()["events"].([]any)
	var actions []string
	for _, e := range events {
		if m, ok := e.(map[string]any); ok {
			actions = append(actions, m["action"].(string))
		}
	}
	want := []string{"dialog_injected", "dialog_closed"}
	if len(actions) != len(want) || actions[0] != want[0] || actions[1] != want[1] {
		t.Fatalf("ping events = %v, want %v", actions, want)
	}
}
