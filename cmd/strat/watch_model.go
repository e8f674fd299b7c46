package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"strat/pkg/clock"
	"strat/pkg/session"
)

// snapshotMsg carries a freshly decoded replica.
type snapshotMsg struct{ s *session.Session }

// statusMsg reports whether the snapshot stream is connected.
type statusMsg bool

// panel selects what the table shows.
type panel int

const (
	rankingPanel panel = iota
	categoriesPanel
)

// watchModel is the Bubble Tea model of the slave display. It only renders
// snapshots; it never changes session state.
type watchModel struct {
	host      string
	connected bool
	session   *session.Session
	received  time.Time
	panel     panel

	table   table.Model
	spinner spinner.Model
	theme   Theme

	width  int
	height int
}

func newWatchModel(host string) watchModel {
	t := table.New(table.WithHeight(12))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	m := watchModel{
		host:    host,
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:   DefaultTheme(),
	}
	m.setColumns()
	return m
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if m.panel == rankingPanel {
				m.panel = categoriesPanel
			} else {
				m.panel = rankingPanel
			}
			m.setColumns()
			m.refreshRows()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case snapshotMsg:
		m.session = msg.s
		m.received = time.Now()
		m.refreshRows()
		return m, nil

	case statusMsg:
		m.connected = bool(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) setColumns() {
	// Rows must match the new column count before the columns change.
	m.table.SetRows(nil)
	if m.panel == rankingPanel {
		m.table.SetColumns([]table.Column{
			{Title: "#", Width: 3},
			{Title: "Team", Width: 22},
			{Title: "Family", Width: 14},
			{Title: "Prestige", Width: 10},
		})
		return
	}
	m.table.SetColumns([]table.Column{
		{Title: "Category", Width: 18},
		{Title: "Kind", Width: 6},
		{Title: "Phase", Width: 20},
		{Title: "Leader", Width: 22},
	})
}

func (m *watchModel) refreshRows() {
	if m.session == nil {
		m.table.SetRows(nil)
		return
	}
	if m.panel == rankingPanel {
		m.table.SetRows(rankingRows(m.session))
	} else {
		m.table.SetRows(categoryRows(m.session))
	}
}

func rankingRows(s *session.Session) []table.Row {
	ranking := s.Ranking()
	rows := make([]table.Row, 0, len(ranking))
	for i, t := range ranking {
		rows = append(rows, table.Row{
			fmt.Sprint(i + 1), t.Name, t.Family, fmt.Sprintf("%.1f", t.Prestige),
		})
	}
	return rows
}

func categoryRows(s *session.Session) []table.Row {
	rows := make([]table.Row, 0, len(s.Categories))
	for _, c := range s.Categories {
		phase := "-"
		if c.Kind == session.KindBuild {
			phase = fmt.Sprintf("%d %s", c.Phase, c.PhaseTitle)
		}
		rows = append(rows, table.Row{c.Name, string(c.Kind), phase, leader(s, c)})
	}
	return rows
}

// leader names the team with the most influence in c, or "-".
func leader(s *session.Session, c *session.Category) string {
	ids := make([]int, 0, len(c.Influence))
	for id, v := range c.Influence {
		if v > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "-"
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.Influence[ids[i]], c.Influence[ids[j]]
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})
	t, ok := s.Team(ids[0])
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s (%.1f)", t.Name, c.Influence[ids[0]])
}

// View implements tea.Model.
func (m watchModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)

	link := lipgloss.NewStyle().Foreground(m.theme.Error).Render("● offline")
	if m.connected {
		link = lipgloss.NewStyle().Foreground(m.theme.Success).Render("● live")
	}

	var b strings.Builder
	b.WriteString(title.Render("strat") + "  " + muted.Render(m.host) + "  " + link + "\n")

	if m.session == nil {
		b.WriteString("\n" + m.spinner.View() + " waiting for the first snapshot...\n")
		b.WriteString(muted.Render("q quit") + "\n")
		return b.String()
	}

	s := m.session
	clockLine := fmt.Sprintf("%s  %s  speed x%g  multiplier %.3f",
		s.Name, clock.FormatSeconds(s.Time.Seconds()), s.Time.Speed, s.Multiplier)
	b.WriteString(lipgloss.NewStyle().Foreground(m.theme.Warning).Render(clockLine) + "\n\n")
	b.WriteString(m.table.View() + "\n")
	b.WriteString(muted.Render(fmt.Sprintf("updated %s · tab switch view · q quit",
		m.received.Format("15:04:05"))) + "\n")
	return b.String()
}
