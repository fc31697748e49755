// Package tokenmgr is an interactive picker for API token scopes.
package tokenmgr

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipmgw/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

var resourceDocs = map[string]string{
	"tabs":     "tab lifecycle reports and content-script messages (browser shim)",
	"commands": "IPM commands: list and inspect, execute and dismiss",
	"host":     "premium license, notification opt-outs, data collection and allowlisting",
	"events":   "the real-time event stream (SSE)",
}

func describe(scope string) string {
	if scope == "*" {
		return "Full administrative access (all scopes)"
	}
	resource, access, _ := strings.Cut(scope, ":")
	verb := "Read"
	if access == "rw" {
		verb = "Read and write"
	}
	return fmt.Sprintf("%s access to %s", verb, resourceDocs[resource])
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Model is the scope picker.
type Model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

// New builds a picker over every grantable scope. Scopes in preselected
// start checked.
func New(preselected ...string) *Model {
	checked := make(map[string]bool, len(preselected))
	for _, s := range preselected {
		checked[s] = true
	}

	var items []list.Item
	for _, s := range auth.Scopes() {
		items = append(items, item{scope: s, desc: describe(s), selected: checked[s]})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Scopes (Space to toggle, Enter to confirm)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &Model{list: l}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ":
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = selectedScopes(m.list.Items())
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected scopes: %s", strings.Join(m.scopes, ", ")))
	}
	return "\n" + m.list.View()
}

// Scopes returns the confirmed selection, or nil if the picker was cancelled.
func (m Model) Scopes() []string {
	if m.quitting {
		return nil
	}
	return m.scopes
}

func selectedScopes(items []list.Item) []string {
	var out []string
	for _, li := range items {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

// Run shows the picker on the terminal and returns the chosen scopes.
func Run(preselected ...string) ([]string, error) {
	final, err := tea.NewProgram(*New(preselected...)).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model %T", final)
	}
	return m.Scopes(), nil
}
