package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipmgw/internal/events"
)

// ScheduleState tracks one named schedule in the watch TUI.
type ScheduleState struct {
	Name      string
	Fired     int
	LastFired time.Time
}

func updateScheduleState(schedules map[string]*ScheduleState, e events.Event) {
	if schedules == nil || e.Type != "scheduler.fired" {
		return
	}
	var data struct {
		Schedule string    `json:"schedule"`
		At       time.Time `json:"at"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Schedule == "" {
		return
	}

	state, ok := schedules[data.Schedule]
	if !ok {
		state = &ScheduleState{Name: data.Schedule}
		schedules[data.Schedule] = state
	}
	state.Fired++
	state.LastFired = data.At
	if state.LastFired.IsZero() {
		state.LastFired = time.Now()
	}
}

func renderSchedules(schedules map[string]*ScheduleState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(schedules) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SCHEDULES"),
			theme.Dim.Render("  No schedule fired yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{theme.Title.Render("SCHEDULES")}
	for _, name := range names {
		s := schedules[name]
		last := fmt.Sprintf("last: %s (%s)",
			s.LastFired.Local().Format("15:04:05"),
			formatAgo(time.Since(s.LastFired).Round(time.Second)))
		lines = append(lines, fmt.Sprintf(" %-28s %s %s",
			s.Name,
			theme.Highlight.Render(fmt.Sprintf("[fired %d]", s.Fired)),
			theme.Dim.Render(last)))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
