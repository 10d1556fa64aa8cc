package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wecom-bridge/internal/events"
)

// activity mirrors the fields the callback server publishes.
type activity struct {
	RequestID  string `json:"request_id"`
	MsgType    string `json:"msg_type"`
	Event      string `json:"event"`
	AgentID    string `json:"agent_id"`
	Status     int    `json:"status"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

func decodeActivity(e events.Event) activity {
	var a activity
	_ = json.Unmarshal(e.Data, &a)
	return a
}

// TypeStats counts outcomes for one MsgType.
type TypeStats struct {
	Received  int
	Forwarded int
	Failed    int
	Skipped   int
}

// Stats accumulates counters from the activity stream.
type Stats struct {
	Handshakes  int
	Received    int
	Rejected    map[string]int
	Duplicates  int
	Ignored     int
	Forwarded   int
	Failed      int
	LastForward time.Duration
	ByType      map[string]*TypeStats
}

func NewStats() *Stats {
	return &Stats{
		Rejected: make(map[string]int),
		ByType:   make(map[string]*TypeStats),
	}
}

func (s *Stats) typeStats(msgType string) *TypeStats {
	if msgType == "" {
		msgType = "(none)"
	}
	ts, ok := s.ByType[msgType]
	if !ok {
		ts = &TypeStats{}
		s.ByType[msgType] = ts
	}
	return ts
}

// Apply folds one event into the counters.
func (s *Stats) Apply(e events.Event) {
	a := decodeActivity(e)

	switch e.Type {
	case events.TypeHandshake:
		s.Handshakes++
	case events.TypeCallbackReceived:
		s.Received++
		s.typeStats(a.MsgType).Received++
	case events.TypeCallbackRejected:
		s.Rejected[a.Reason]++
	case events.TypeDuplicate:
		s.Duplicates++
		s.typeStats(a.MsgType).Skipped++
	case events.TypeIgnored:
		s.Ignored++
		s.typeStats(a.MsgType).Skipped++
	case events.TypeForwardCompleted:
		s.Forwarded++
		s.LastForward = time.Duration(a.DurationMS) * time.Millisecond
		s.typeStats(a.MsgType).Forwarded++
	case events.TypeForwardFailed:
		s.Failed++
		s.LastForward = time.Duration(a.DurationMS) * time.Millisecond
		s.typeStats(a.MsgType).Failed++
	}
}

// TotalRejected sums rejections across reasons.
func (s *Stats) TotalRejected() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

func newTypeTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "MsgType", Width: 14},
			{Title: "Received", Width: 9},
			{Title: "Forwarded", Width: 10},
			{Title: "Failed", Width: 7},
			{Title: "Skipped", Width: 8},
		}),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.UnsetForeground().UnsetBackground()
	t.SetStyles(s)
	return t
}

// typeRows renders ByType sorted by received count, busiest first.
func typeRows(s *Stats) []table.Row {
	names := make([]string, 0, len(s.ByType))
	for name := range s.ByType {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.ByType[names[i]], s.ByType[names[j]]
		if a.Received != b.Received {
			return a.Received > b.Received
		}
		return names[i] < names[j]
	})

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		ts := s.ByType[name]
		rows = append(rows, table.Row{
			name,
			fmt.Sprint(ts.Received),
			fmt.Sprint(ts.Forwarded),
			fmt.Sprint(ts.Failed),
			fmt.Sprint(ts.Skipped),
		})
	}
	return rows
}

func renderStats(s *Stats, t table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	failed := fmt.Sprint(s.Failed)
	if s.Failed > 0 {
		failed = theme.StatusFailed.Render(failed)
	}
	rejected := fmt.Sprint(s.TotalRejected())
	if s.TotalRejected() > 0 {
		rejected = theme.StatusWarn.Render(rejected)
	}

	summary := fmt.Sprintf(" Received: %d  Forwarded: %s  Failed: %s  Rejected: %s  Duplicates: %d  Ignored: %d  Handshakes: %d",
		s.Received,
		theme.StatusOK.Render(fmt.Sprint(s.Forwarded)),
		failed,
		rejected,
		s.Duplicates,
		s.Ignored,
		s.Handshakes,
	)
	if s.LastForward > 0 {
		summary += fmt.Sprintf("  Last forward: %s", s.LastForward)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CALLBACKS"),
		summary,
		"",
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
