package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ipmgw/internal/app"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/dialog"
	"github.com/mattjoyce/ipmgw/internal/inspect"
	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/newtab"
	"github.com/mattjoyce/ipmgw/internal/prefs"
)

func commandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "List, inspect, execute and dismiss IPM commands",
	}
	cmd.PersistentFlags().String("api-url", "", "Base URL of a running ipmgw API (default: from api.listen)")
	cmd.PersistentFlags().String("api-key", os.Getenv("IPMGW_API_KEY"), "Bearer token for the API (env IPMGW_API_KEY)")

	cmd.AddCommand(commandListCmd())
	cmd.AddCommand(commandInspectCmd())
	cmd.AddCommand(commandExecCmd())
	cmd.AddCommand(commandDismissCmd())
	return cmd
}

// offlineLibrary opens the configured preference store read-side for
// tooling that runs next to (or instead of) the service.
type offlineLibrary struct {
	lib   *ipm.Library
	stats *dialog.StatsStore
	close func() error
}

func openOfflineLibrary(ctx context.Context, cmd *cobra.Command) (*offlineLibrary, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if cfg.State.Backend == "memory" {
		return nil, errors.New("the memory backend keeps no commands between runs")
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	backend, closeFn, err := app.OpenBackend(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	store, err := prefs.NewStore(backend, app.Defaults(cfg), logger)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	policy, err := ipm.NewOriginPolicy(cfg.IPM.DefaultOrigin, cfg.IPM.SafeOrigins)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	// Actors decode behavior and content; their handlers never run here.
	lib := ipm.NewLibrary(store, ipm.DefaultVersions, logger)
	lib.SetCommandActor(ctx, ipm.CommandCreateOnPageDialog, dialog.NewActor(policy, nil, logger))
	lib.SetCommandActor(ctx, ipm.CommandCreateTab, newtab.NewActor(policy, nil, logger))
	lib.SetCommandActor(ctx, ipm.CommandDeleteCommands, ipm.NewDeleteActor(lib, nil, logger))

	return &offlineLibrary{
		lib:   lib,
		stats: dialog.NewStatsStore(store),
		close: closeFn,
	}, nil
}

func commandListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			off, err := openOfflineLibrary(ctx, cmd)
			if err != nil {
				return err
			}
			defer off.close()

			ids, err := off.lib.CommandIDs(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no stored commands")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IPM ID\tCOMMAND\tVERSION\tDISPLAYED")
			for _, id := range ids {
				c, err := off.lib.Command(ctx, id)
				if err != nil {
					return err
				}
				v, _ := c.Version()
				shown := "-"
				if s, ok, err := off.stats.Get(ctx, id); err == nil && ok {
					shown = fmt.Sprintf("%d", s.DisplayCount)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, c.Name(), v, shown)
			}
			return tw.Flush()
		},
	}
}

func commandInspectCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect <ipm-id>",
		Short: "Show a stored command with its behavior, content and stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			off, err := openOfflineLibrary(ctx, cmd)
			if err != nil {
				return err
			}
			defer off.close()

			report, err := inspect.Gather(ctx, off.lib, off.stats, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				s, err := report.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Text())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}

func commandExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <file|->",
		Short: "Execute a command JSON document on the running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read command: %w", err)
			}
			if !json.Valid(body) {
				return errors.New("command is not valid JSON")
			}

			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				IPMID  string `json:"ipm_id"`
				Status string `json:"status"`
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/commands", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", okMark("✓"), resp.IPMID, resp.Status)
			return nil
		},
	}
}

func commandDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <ipm-id>",
		Short: "Dismiss a command on the running service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := client.do(cmd.Context(), http.MethodDelete, "/commands/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s dismissed\n", okMark("✓"), args[0])
			return nil
		},
	}
}

type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	baseURL, _ := cmd.Flags().GetString("api-url")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if baseURL == "" {
		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return nil, fmt.Errorf("no --api-url and %w", err)
		}
		baseURL = "http://" + cfg.API.Listen
		if apiKey == "" {
			apiKey = cfg.API.Auth.APIKey
		}
	}
	if apiKey == "" {
		return nil, errors.New("an API key is required (--api-key or IPMGW_API_KEY)")
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
