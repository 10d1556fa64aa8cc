package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wecom-bridge/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for callbacks..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeForwardCompleted, events.TypeHandshake:
		typeStyle = theme.StatusOK
	case events.TypeForwardFailed:
		typeStyle = theme.StatusFailed
	case events.TypeCallbackRejected, events.TypeDuplicate:
		typeStyle = theme.StatusWarn
	case events.TypeCallbackReceived:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent summarizes an activity payload in one line.
func describeEvent(e events.Event) string {
	a := decodeActivity(e)

	var parts []string
	if a.RequestID != "" {
		id := a.RequestID
		if i := strings.LastIndex(id, "/"); i >= 0 {
			id = id[i+1:]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if a.MsgType != "" {
		msgType := a.MsgType
		if a.Event != "" {
			msgType += "/" + a.Event
		}
		parts = append(parts, msgType)
	}
	if a.Reason != "" {
		parts = append(parts, a.Reason)
	}
	if a.Status != 0 {
		parts = append(parts, fmt.Sprint(a.Status))
	}
	if a.DurationMS != 0 {
		parts = append(parts, fmt.Sprintf("%dms", a.DurationMS))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
