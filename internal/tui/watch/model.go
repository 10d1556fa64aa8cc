package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wecom-bridge/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health   HealthState
	stats    *Stats
	types    table.Model
	eventLog []events.Event
	lastID   *int64

	pulse Pulse
	theme Theme
	now   func() time.Time

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model for the admin server at apiURL.
func New(apiURL, apiKey string) *Model {
	var lastID int64
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		stats:     NewStats(),
		types:     newTypeTable(),
		eventLog:  make([]events.Event, 0, maxEventLog),
		lastID:    &lastID,
		theme:     NewDefaultTheme(),
		now:       time.Now,
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) subscribe() tea.Cmd {
	lastID := m.lastID
	return subscribeToEvents(m.apiURL, m.apiKey, func() int64 { return *lastID }, m.hubEvents)
}

func (m Model) pollHealth(after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
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
		case "c":
			m.stats = NewStats()
			m.types.SetRows(nil)
			m.eventLog = m.eventLog[:0]
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.types.SetWidth(max(20, msg.Width-8))

	case tickMsg:
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > *m.lastID {
			*m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}

		m.stats.Apply(e)
		m.types.SetRows(typeRows(m.stats))
		m.pulse.OnEvent(m.now())

		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Version = msg.Version
		m.health.CallbackPath = msg.CallbackPath
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, m.pollHealth(5 * time.Second)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// The pending receiveNextEvent keeps reading the shared channel,
		// so a new subscription needs no new receiver.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollHealth(5 * time.Second)
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to wecom-bridge..."
	}

	header := renderHeader(m.health, m.pulse, m.theme, m.width, m.now())
	stats := renderStats(m.stats, m.types, m.theme, m.width)

	// Header and stats take roughly 16 lines; the stream gets the rest.
	rows := max(3, m.height-22)
	stream := renderEventStream(m.eventLog, m.theme, m.width, rows)

	parts := []string{header, stats, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [c] Clear counters"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
