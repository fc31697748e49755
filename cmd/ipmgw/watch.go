package main

import (
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/ipmgw/internal/tui/watch"
)

func watchCmd() *cobra.Command {
	var apiURL, apiKey string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of dialog assignments, schedules and events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("IPMGW_API_KEY")
			}
			p := tea.NewProgram(watch.New(strings.TrimRight(apiURL, "/"), apiKey), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "http://127.0.0.1:8080", "Base URL of the ipmgw API")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Token with events:ro (env IPMGW_API_KEY)")
	return cmd
}
