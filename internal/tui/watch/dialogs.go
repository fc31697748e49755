package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipmgw/internal/events"
)

// DialogState tracks one dialog discovered from events.
type DialogState struct {
	ID           string
	TabID        int // -1 when not shown
	DisplayCount int
	LastOutcome  string // last termination event
	Dismissed    bool
	LastChange   time.Time
}

// updateDialogState applies a dialog.* event.
func updateDialogState(dialogs map[string]*DialogState, e events.Event) {
	if !strings.HasPrefix(e.Type, "dialog.") {
		return
	}
	var data struct {
		DialogID     string `json:"dialog_id"`
		TabID        *int   `json:"tab_id"`
		DisplayCount *int   `json:"display_count"`
		Event        string `json:"event"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.DialogID == "" {
		return
	}

	d, ok := dialogs[data.DialogID]
	if !ok {
		d = &DialogState{ID: data.DialogID, TabID: -1}
		dialogs[data.DialogID] = d
	}
	d.LastChange = time.Now()

	switch e.Type {
	case "dialog.assigned":
		if data.TabID != nil {
			d.TabID = *data.TabID
		}
		if data.DisplayCount != nil {
			d.DisplayCount = *data.DisplayCount
		}
		d.Dismissed = false
	case "dialog.terminated":
		d.TabID = -1
		d.LastOutcome = data.Event
	case "dialog.dismissed":
		d.TabID = -1
		d.Dismissed = true
	}
}

// sortedDialogIDs orders shown dialogs first, then by id.
func sortedDialogIDs(dialogs map[string]*DialogState) []string {
	ids := make([]string, 0, len(dialogs))
	for id := range dialogs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := dialogs[ids[i]], dialogs[ids[j]]
		if (a.TabID >= 0) != (b.TabID >= 0) {
			return a.TabID >= 0
		}
		return a.ID < b.ID
	})
	return ids
}

func renderDialogs(dialogs map[string]*DialogState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(dialogs) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("DIALOGS"),
			theme.Dim.Render("  No dialog activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, id := range sortedDialogIDs(dialogs) {
		if i >= 12 {
			break
		}
		lines = append(lines, renderDialogRow(i+1, dialogs[id], i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("DIALOGS")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderDialogRow(num int, d *DialogState, isSelected bool, theme Theme) string {
	var status string
	switch {
	case d.TabID >= 0:
		status = theme.Shown.Render(fmt.Sprintf("[tab %d]", d.TabID))
	case d.Dismissed:
		status = theme.Dismissed.Render("[dismissed]")
	default:
		status = theme.Queued.Render("[queued]")
	}

	var outcome string
	if d.LastOutcome != "" {
		outcome = fmt.Sprintf("Last: %s %s", outcomeIcon(d.LastOutcome, theme), d.LastOutcome)
	}

	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = theme.Selected
	}

	return fmt.Sprintf(" %d. %s  %s  shown %d×  %s  %s",
		num,
		nameStyle.Render(fmt.Sprintf("%-24s", d.ID)),
		status,
		d.DisplayCount,
		theme.Dim.Render(formatAgo(time.Since(d.LastChange).Round(time.Second))),
		outcome,
	)
}

func outcomeIcon(event string, theme Theme) string {
	switch event {
	case "dialog_button_clicked":
		return theme.Clicked.Render("✔")
	case "dialog_closed":
		return theme.Closed.Render("✖")
	case "dialog_ignored":
		return theme.Dim.Render("…")
	default:
		return ""
	}
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
