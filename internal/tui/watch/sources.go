package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/nookplot/hookgate/internal/events"
)

// SourceState tracks one registered webhook source, merged from the
// management API and the live event stream.
type SourceState struct {
	Source    string
	Active    bool
	HasSecret bool
	Received  int
	LastEvent time.Time
	LastType  string
}

func newSourcesTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Source", Width: 16},
			{Title: "Active", Width: 6},
			{Title: "Secret", Width: 6},
			{Title: "Received", Width: 8},
			{Title: "Last Event", Width: 22},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return t
}

// mergeSourceList folds a webhook list fetch into the source map.
func mergeSourceList(sources map[string]*SourceState, infos []sourceInfo) {
	for _, info := range infos {
		st, ok := sources[info.Source]
		if !ok {
			st = &SourceState{Source: info.Source}
			sources[info.Source] = st
		}
		st.Active = info.Active
		st.HasSecret = info.HasSecret
	}
}

// updateSourceState folds one stream event into the source map.
func updateSourceState(sources map[string]*SourceState, e events.Event) {
	if e.Type != "webhook.received" {
		return
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	name, _ := data["source"].(string)
	if name == "" {
		return
	}

	st, ok := sources[name]
	if !ok {
		st = &SourceState{Source: name, Active: true}
		sources[name] = st
	}
	st.Received++
	st.LastEvent = e.At
	if eventType, ok := data["eventType"].(string); ok {
		st.LastType = eventType
	}
}

// sourceRows renders the source map into table rows, sorted by name.
func sourceRows(sources map[string]*SourceState) []table.Row {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		st := sources[name]

		active := "no"
		if st.Active {
			active = "yes"
		}
		secret := "-"
		if st.HasSecret {
			secret = "yes"
		}

		last := "never"
		if !st.LastEvent.IsZero() {
			last = st.LastEvent.Format("15:04:05")
			if st.LastType != "" {
				last = fmt.Sprintf("%s %s", last, st.LastType)
			}
		}

		rows = append(rows, table.Row{
			st.Source,
			active,
			secret,
			fmt.Sprintf("%d", st.Received),
			last,
		})
	}
	return rows
}

func renderSources(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("SOURCES"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
