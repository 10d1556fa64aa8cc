package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Version       string
	CallbackPath  string
	Connected     bool
	LastCheck     time.Time
}

// Pulse lights up on events and fades over ten seconds.
type Pulse struct {
	dots      int
	lastEvent time.Time
}

func (p *Pulse) OnEvent(now time.Time) {
	p.dots = 5
	p.lastEvent = now
}

// Decay dims one dot for every two seconds without events.
func (p *Pulse) Decay(now time.Time) {
	if p.dots == 0 {
		return
	}
	faded := int(now.Sub(p.lastEvent) / (2 * time.Second))
	p.dots = max(0, 5-faded)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < p.dots {
			b.WriteString(theme.PulseActive.Render("●"))
		} else {
			b.WriteString(theme.PulseInactive.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := " WECOM BRIDGE WATCH"
	if health.Version != "" {
		titleText += " " + theme.Dim.Render(health.Version)
	}
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  Uptime: %s  Path: %s",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		theme.Highlight.Render(health.CallbackPath),
	)

	lastEvent := "never"
	if !pulse.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(pulse.lastEvent).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
