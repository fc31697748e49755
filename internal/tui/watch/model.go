package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ipmgw/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	// State
	health    HealthState
	dialogs   map[string]*DialogState
	schedules map[string]*ScheduleState
	eventLog  []events.Event

	// Live indicators
	ticker   Ticker
	activity Activity

	// UI state
	theme          Theme
	selectedDialog int

	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		dialogs:   make(map[string]*DialogState),
		schedules: make(map[string]*ScheduleState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		activity:  NewActivity(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selectedDialog > 0 {
				m.selectedDialog--
			}
		case "down", "j":
			if m.selectedDialog < len(m.dialogs)-1 {
				m.selectedDialog++
			}
		case "d":
			if id, ok := m.selectedDialogID(); ok {
				return m, dismissCommand(m.apiURL, m.apiKey, id)
			}
		}

	case dismissedMsg:
		m.notice = fmt.Sprintf("dismissed %s", string(msg))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.DeferredCount = msg.DeferredCount
		m.health.AssignedDialogs = msg.AssignedDialogs
		m.health.QueuedDialogs = msg.QueuedDialogs
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// applyEvent folds one streamed event into the model state.
func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	m.activity.Record(e.At)
	updateDialogState(m.dialogs, e)
	updateScheduleState(m.schedules, e)

	m.health.Connected = true
	m.lastError = ""
}

// selectedDialogID returns the id under the cursor unless that dialog is
// already dismissed.
func (m Model) selectedDialogID() (string, bool) {
	ids := sortedDialogIDs(m.dialogs)
	if m.selectedDialog < 0 || m.selectedDialog >= len(ids) {
		return "", false
	}
	id := ids[m.selectedDialog]
	if m.dialogs[id].Dismissed {
		return "", false
	}
	return id, true
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to ipmgw..."
	}

	header := renderHeader(m.health, m.ticker, m.activity, m.theme, m.width)
	dialogs := renderDialogs(m.dialogs, m.selectedDialog, m.theme, m.width)
	schedules := renderSchedules(m.schedules, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.Unhealthy.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	} else if m.notice != "" {
		errBar = m.theme.Highlight.Render(" " + m.notice)
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Dialogs • [d] Dismiss Command")

	parts := []string{header, dialogs, schedules, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
