package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/prefs"
	"github.com/mattjoyce/ipmgw/internal/storage"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func TestVersionJSON(t *testing.T) {
	stdout, _, err := runCLI(t, "", "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if info.Version == "" || info.Commit == "" {
		t.Fatalf("incomplete version info: %+v", info)
	}
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	got, ok := normalizeBuildTimeUTC("2026-01-02T10:00:00+02:00")
	if !ok || got != "2026-01-02T08:00:00Z" {
		t.Fatalf("normalizeBuildTimeUTC = %q, %v", got, ok)
	}
	if _, ok := normalizeBuildTimeUTC("unknown"); ok {
		t.Fatal("unknown should not normalize")
	}
}

func TestConfigCheckWarnings(t *testing.T) {
	_, path := writeConfig(t, `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
        scopes: [tabs:rw]
timings:
  sometimes:
    cooldown: 1
    max_display_count: 1
`)
	stdout, _, err := runCLI(t, "", "config", "check", "--config", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	for _, want := range []string{
		"configuration valid with 2 warning(s)",
		"ipm.push_secret: push secret is empty",
		"timings.sometimes: unknown timing is ignored",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestConfigCheckUnknownScope(t *testing.T) {
	_, path := writeConfig(t, `
ipm:
  push_secret: s3cret
api:
  enabled: true
  auth:
    tokens:
      - token: abc
        scopes: [tabs:rw, jobs:ro]
`)
	stdout, _, err := runCLI(t, "", "config", "check", "--config", path, "--json")
	if err == nil {
		t.Fatal("expected unknown scope to fail the check")
	}
	var result struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if result.Valid || len(result.Errors) != 1 || result.Errors[0].Field != "api.auth.tokens[0].scopes[1]" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestConfigCheckInvalid(t *testing.T) {
	_, path := writeConfig(t, "state:\n  backend: postgres\n")
	if _, _, err := runCLI(t, "", "config", "check", "--config", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigLockDetectsTampering(t *testing.T) {
	dir, path := writeConfig(t, "service:\n  log_level: info\n")

	stdout, _, err := runCLI(t, "", "config", "lock", "--config", path, "--dry-run")
	if err != nil {
		t.Fatalf("lock dry-run: %v", err)
	}
	if !strings.Contains(stdout, "would write") {
		t.Fatalf("dry-run output: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal("dry-run wrote a manifest")
	}

	if _, _, err := runCLI(t, "", "config", "lock", "--config", path); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, _, err := runCLI(t, "", "config", "check", "--config", path); err != nil {
		t.Fatalf("check after lock: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, "", "config", "check", "--config", path); err == nil {
		t.Fatal("expected hash verification failure after edit")
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	_, path := writeConfig(t, `
ipm:
  push_secret: hush
api:
  enabled: true
  auth:
    api_key: topsecret
    tokens:
      - token: shimtoken
        scopes: [tabs:rw]
`)
	stdout, _, err := runCLI(t, "", "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, secret := range []string{"hush", "topsecret", "shimtoken"} {
		if strings.Contains(stdout, secret) {
			t.Errorf("secret %q leaked:\n%s", secret, stdout)
		}
	}
	if !strings.Contains(stdout, "tabs:rw") {
		t.Errorf("scopes missing:\n%s", stdout)
	}
}

func TestConfigTokenWithScopes(t *testing.T) {
	stdout, _, err := runCLI(t, "", "config", "token", "--scopes", "tabs:rw, events:ro,tabs:rw")
	if err != nil {
		t.Fatalf("config token: %v", err)
	}
	if !strings.Contains(stdout, "Token key: ") || !strings.Contains(stdout, "- tabs:rw") || !strings.Contains(stdout, "- events:ro") {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
	if strings.Count(stdout, "tabs:rw") != 1 {
		t.Fatalf("duplicate scope not removed:\n%s", stdout)
	}

	if _, _, err := runCLI(t, "", "config", "token", "--scopes", "plugin:rw"); err == nil {
		t.Fatal("expected unknown scope error")
	}
}

func seedCommands(t *testing.T, dbPath string, commands map[string]ipm.Command) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	store, err := prefs.NewStore(prefs.NewSQLiteBackend(db), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, prefs.KeyCommands, commands); err != nil {
		t.Fatalf("seed commands: %v", err)
	}
	if err := store.Set(ctx, prefs.KeyDialogStats, map[string]any{
		"abc": map[string]any{"displayCount": 2, "lastDisplayTime": 0},
	}); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func TestCommandListAndInspect(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "prefs.db")
	seedCommands(t, dbPath, map[string]ipm.Command{
		"abc": {
			"version":       3,
			"ipm_id":        "abc",
			"command_name":  ipm.CommandCreateOnPageDialog,
			"timing":        "after_navigation",
			"sub_title":     "Hi",
			"upper_body":    "Body",
			"button_label":  "Go",
			"button_target": "https://adblockplus.org/x",
		},
	})
	_, path := writeConfig(t, "state:\n  backend: sqlite\n  path: "+dbPath+"\n")

	stdout, _, err := runCLI(t, "", "command", "list", "--config", path)
	if err != nil {
		t.Fatalf("command list: %v", err)
	}
	if !strings.Contains(stdout, "abc") || !strings.Contains(stdout, ipm.CommandCreateOnPageDialog) {
		t.Fatalf("list output:\n%s", stdout)
	}

	stdout, _, err = runCLI(t, "", "command", "inspect", "abc", "--json", "--config", path)
	if err != nil {
		t.Fatalf("command inspect: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if report["ipm_id"] != "abc" || report["behavior"] == nil || report["stats"] == nil {
		t.Fatalf("incomplete report: %v", report)
	}

	if _, _, err := runCLI(t, "", "command", "inspect", "nope", "--config", path); err == nil {
		t.Fatal("expected not found")
	}
}

func TestCommandExecAndDismissUseAPI(t *testing.T) {
	type call struct {
		method, path, auth, body string
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(b)})
		mu.Unlock()
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ipm_id":"abc","status":"accepted"}`))
		case r.URL.Path == "/commands/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"command not found"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	cmdJSON := `{"version":1,"ipm_id":"abc","command_name":"create_tab"}`
	stdout, _, err := runCLI(t, cmdJSON, "command", "exec", "-", "--api-url", srv.URL, "--api-key", "k")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(stdout, "abc accepted") {
		t.Fatalf("exec output: %s", stdout)
	}

	if _, _, err := runCLI(t, "not json", "command", "exec", "-", "--api-url", srv.URL, "--api-key", "k"); err == nil {
		t.Fatal("expected invalid JSON error")
	}

	if _, _, err := runCLI(t, "", "command", "dismiss", "abc", "--api-url", srv.URL, "--api-key", "k"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	_, _, err = runCLI(t, "", "command", "dismiss", "missing", "--api-url", srv.URL, "--api-key", "k")
	if err == nil || !strings.Contains(err.Error(), "command not found") {
		t.Fatalf("dismiss missing err = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].method != http.MethodPost || calls[0].path != "/commands" || calls[0].auth != "Bearer k" || calls[0].body != cmdJSON {
		t.Fatalf("exec call = %+v", calls[0])
	}
	if calls[1].method != http.MethodDelete || calls[1].path != "/commands/abc" {
		t.Fatalf("dismiss call = %+v", calls[1])
	}
}
