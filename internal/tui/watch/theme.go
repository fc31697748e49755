// Package watch implements the ipmgw watch TUI: live dialog assignments,
// the ping schedule and the event stream, fed by the API's SSE endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles of the watch TUI, named after what they mark.
type Theme struct {
	Healthy   lipgloss.Style
	Unhealthy lipgloss.Style

	// Dialog lifecycle.
	Shown     lipgloss.Style
	Queued    lipgloss.Style
	Dismissed lipgloss.Style
	Clicked   lipgloss.Style
	Closed    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Selected  lipgloss.Style

	// Activity sparkline.
	BarHot  lipgloss.Style
	BarCold lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#56B6C2")
	grey := lipgloss.Color("#7F848E")

	return Theme{
		Healthy:   lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		Unhealthy: lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),

		Shown:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")).Bold(true),
		Queued:    lipgloss.NewStyle().Foreground(grey),
		Dismissed: lipgloss.NewStyle().Foreground(lipgloss.Color("#5C6370")).Strikethrough(true),
		Clicked:   lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		Closed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(grey),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("24")),

		BarHot:  lipgloss.NewStyle().Foreground(accent),
		BarCold: lipgloss.NewStyle().Foreground(lipgloss.Color("#3E4451")),
	}
}
