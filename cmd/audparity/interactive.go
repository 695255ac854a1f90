package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/wavecheck/audparity/parity"
	"github.com/wavecheck/audparity/report"
	"github.com/wavecheck/audparity/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	divergeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0E68C"))

	mismatchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// browseLimit caps how much history the browser pulls in.
const browseLimit = 50

type browserModel struct {
	err      error
	db       *store.DB
	dbFile   string
	runs     []store.Run
	verdicts []store.VerdictRow
	probes   map[string]store.ProbeRow
	filter   textinput.Model
	selected int
	state    browserState
}

type browserState int

const (
	stateListRuns browserState = iota
	stateRunDetail
)

func newBrowserModel(dbFile string) *browserModel {
	filter := textinput.New()
	filter.Placeholder = "file name"
	filter.Prompt = "filter: "
	filter.Width = 40
	return &browserModel{dbFile: dbFile, filter: filter, state: stateListRuns}
}

type runsLoadedMsg struct {
	err  error
	db   *store.DB
	runs []store.Run
}

type detailLoadedMsg struct {
	err      error
	verdicts []store.VerdictRow
	probes   []store.ProbeRow
}

func (m *browserModel) Init() tea.Cmd {
	return m.loadRuns
}

func (m *browserModel) loadRuns() tea.Msg {
	db, err := store.Open(m.dbFile)
	if err != nil {
		return runsLoadedMsg{err: err}
	}
	runs, err := db.LastRuns(context.Background(), browseLimit)
	if err != nil {
		db.Close()
		return runsLoadedMsg{err: err}
	}
	return runsLoadedMsg{db: db, runs: runs}
}

func (m *browserModel) loadDetail() tea.Msg {
	ctx := context.Background()
	runID := m.runs[m.selected].ID

	verdicts, err := m.db.RunVerdicts(ctx, runID)
	if err != nil {
		return detailLoadedMsg{err: err}
	}
	probes, err := m.db.RunProbes(ctx, runID)
	if err != nil {
		return detailLoadedMsg{err: err}
	}
	return detailLoadedMsg{verdicts: verdicts, probes: probes}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.db != nil {
				m.db.Close()
			}
			return m, tea.Quit

		case "q":
			// In the detail view q belongs to the filter input.
			if m.state == stateListRuns {
				if m.db != nil {
					m.db.Close()
				}
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateListRuns && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateListRuns && m.selected < len(m.runs)-1 {
				m.selected++
			}

		case "enter":
			if m.state == stateListRuns && len(m.runs) > 0 {
				return m, m.loadDetail
			}

		case "esc":
			if m.state == stateRunDetail {
				m.state = stateListRuns
				m.verdicts = nil
				m.probes = nil
				m.filter.SetValue("")
			}
		}

	case runsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.db = msg.db
		m.runs = msg.runs

	case detailLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.verdicts = msg.verdicts
		m.probes = make(map[string]store.ProbeRow, len(msg.probes))
		for _, p := range msg.probes {
			if p.Side == store.SideRebuilt {
				m.probes[p.File] = p
			}
		}
		m.filter.Focus()
		m.state = stateRunDetail
	}

	if m.state == stateRunDetail {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("audparity"))
	b.WriteString(" stored runs\n\n")

	switch m.state {
	case stateListRuns:
		if len(m.runs) == 0 {
			b.WriteString("No runs recorded yet.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return b.String()
		}
		for i, r := range m.runs {
			line := formatRun(r)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • q quit"))

	case stateRunDetail:
		r := m.runs[m.selected]
		b.WriteString(labelStyle.Render(vsLabel(r)))
		b.WriteString(fmt.Sprintf("  %s  coverage %.1f%%\n\n", humanize.Time(r.StartedAt), r.Aggregate))
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")

		needle := strings.ToLower(m.filter.Value())
		shown := 0
		for _, v := range m.verdicts {
			if needle != "" && !strings.Contains(strings.ToLower(v.File), needle) {
				continue
			}
			b.WriteString("  " + m.formatVerdict(v))
			b.WriteString("\n")
			shown++
		}
		if shown == 0 {
			b.WriteString(helpStyle.Render("  no files match"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("type to filter • esc back • ctrl+c quit"))
	}

	return b.String()
}

func formatRun(r store.Run) string {
	return fmt.Sprintf("%-8s  %-16s  %-44s  %3d pass  %3d fail  %5.1f%%",
		shortID(r.ID), humanize.Time(r.StartedAt), vsLabel(r), r.Passed, r.Failed, r.Aggregate)
}

func (m *browserModel) formatVerdict(v store.VerdictRow) string {
	line := fmt.Sprintf("%-34s", v.File)
	if p, ok := m.probes[v.File]; ok {
		line += fmt.Sprintf("  %-22s  %8d", p.Status, p.SampleCount)
	} else {
		line += fmt.Sprintf("  %-22s  %8s", "-", "-")
	}
	cls := classStyle(v.Class).Render(v.Class)
	if v.Detail != "" {
		cls += helpStyle.Render(" (" + v.Detail + ")")
	}
	return line + "  " + cls
}

func classStyle(class string) lipgloss.Style {
	switch class {
	case string(parity.Match):
		return matchStyle
	case string(parity.ExpectedDivergence):
		return divergeStyle
	case string(parity.Mismatch):
		return mismatchStyle
	default:
		return helpStyle
	}
}

func vsLabel(r store.Run) string {
	if r.OriginalLabel == "" {
		return "rebuilt-only: " + r.RebuiltLabel
	}
	return r.OriginalLabel + " vs " + r.RebuiltLabel
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runInteractive opens the stored-run browser. Without a terminal it
// degrades to a plain listing of recent runs.
func runInteractive(dbFile string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return listRuns(dbFile)
	}
	p := tea.NewProgram(newBrowserModel(dbFile), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func listRuns(dbFile string) error {
	db, err := store.Open(dbFile)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.LastRuns(context.Background(), browseLimit)
	if err != nil {
		return err
	}
	lines := make([]report.RunLine, len(runs))
	for i, r := range runs {
		lines[i] = report.RunLine{
			ID:        r.ID,
			StartedAt: r.StartedAt,
			Original:  r.OriginalLabel,
			Rebuilt:   r.RebuiltLabel,
			Passed:    r.Passed,
			Failed:    r.Failed,
			Aggregate: r.Aggregate,
		}
	}
	return report.RenderRuns(os.Stdout, lines)
}
