// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/stovelink/pkg/journal"
)

var monitorRecent int

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of the event journal",
	Long: `Show the event journal in a terminal UI, refreshed every second.

The view shows the last relay state, event counts per kind and the most
recent events. It only reads the journal, so it can run next to a controller
or receiver that writes it.

Press q to quit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorRecent, "recent", 20, "Number of recent events to show")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is empty, nothing to monitor")
	}
	db, err := journal.OpenDB(cfg.Journal.Path)
	if err != nil {
		return err
	}
	j := journal.New(db, lg.Named("journal"))
	defer j.Close()

	p := tea.NewProgram(newMonitorModel(j, cfg.Journal.Path, monitorRecent), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// journalReader is the part of the journal the monitor reads.
type journalReader interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
	Counts(ctx context.Context) (map[string]int, error)
	LastRelayState(ctx context.Context) (journal.Entry, bool, error)
}

// Messages
type monitorTickMsg time.Time

type journalSnapshotMsg struct {
	recent   []journal.Entry
	counts   map[string]int
	last     journal.Entry
	haveLast bool
	err      error
	at       time.Time
}

type monitorModel struct {
	journal journalReader
	path    string
	limit   int
	spinner spinner.Model

	recent   []journal.Entry
	counts   map[string]int
	last     journal.Entry
	haveLast bool
	err      error
	updated  time.Time

	width    int
	height   int
	quitting bool
}

func newMonitorModel(j journalReader, path string, limit int) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return monitorModel{
		journal: j,
		path:    path,
		limit:   limit,
		spinner: s,
		width:   80,
		height:  24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadJournalCmd(m.journal, m.limit), monitorTickCmd())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func loadJournalCmd(j journalReader, limit int) tea.Cmd {
	return func() tea.Msg {
		return loadJournal(j, limit)
	}
}

func loadJournal(j journalReader, limit int) journalSnapshotMsg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := journalSnapshotMsg{at: time.Now()}
	if msg.recent, msg.err = j.Recent(ctx, limit); msg.err != nil {
		return msg
	}
	if msg.counts, msg.err = j.Counts(ctx); msg.err != nil {
		return msg
	}
	msg.last, msg.haveLast, msg.err = j.LastRelayState(ctx)
	return msg
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		return m, tea.Batch(loadJournalCmd(m.journal, m.limit), monitorTickCmd())

	case journalSnapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.recent = msg.recent
			m.counts = msg.counts
			m.last = msg.last
			m.haveLast = msg.haveLast
			m.updated = msg.at
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// sortedCounts returns "KIND: n" lines, largest first.
func sortedCounts(counts map[string]int) []string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if counts[kinds[i]] != counts[kinds[j]] {
			return counts[kinds[i]] > counts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})

	lines := make([]string, len(kinds))
	for i, k := range kinds {
		lines[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return lines
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	onStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	offStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("STOVELINK - JOURNAL MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Journal: %s | Press 'q' to quit", m.path)))
	s.WriteString("\n\n")

	if m.updated.IsZero() && m.err == nil {
		s.WriteString(m.spinner.View() + " Loading journal...\n")
		return s.String()
	}

	status := strings.Builder{}
	status.WriteString(labelStyle.Render("Relay: "))
	switch {
	case !m.haveLast:
		status.WriteString(headerStyle.Render("no transitions recorded"))
	case m.last.Kind == journal.KindRelayOn:
		status.WriteString(onStyle.Render("ON"))
	case m.last.Kind == journal.KindSafetyTimeout:
		status.WriteString(warningStyle.Render("OFF (safety timeout)"))
	default:
		status.WriteString(offStyle.Render("OFF"))
	}
	if m.haveLast {
		status.WriteString(headerStyle.Render(fmt.Sprintf("  since %s (%s ago)",
			m.last.Time.Local().Format("01/02/06 15:04:05"),
			time.Since(m.last.Time).Round(time.Second))))
	}
	status.WriteString("\n")
	status.WriteString(fmt.Sprintf("%s %s %s", m.spinner.View(), headerStyle.Render("updated"),
		headerStyle.Render(m.updated.Format("15:04:05"))))
	if m.err != nil {
		status.WriteString("\n" + offStyle.Render("✗ "+m.err.Error()))
	}
	s.WriteString(boxStyle.Render(status.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Events by kind:"))
	s.WriteString("\n")
	counts := sortedCounts(m.counts)
	if len(counts) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(no events yet)")))
	} else {
		s.WriteString(boxStyle.Render(strings.Join(counts, "   ")))
	}
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logContent := strings.Builder{}
	if len(m.recent) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, e := range m.recent {
		line := fmt.Sprintf("%-16s %s", e.Kind, e.Message)
		switch e.Kind {
		case journal.KindSafetyTimeout, journal.KindSendFailed:
			line = offStyle.Render("✗ " + line)
		case journal.KindRelayOn, journal.KindRelayOff:
			line = onStyle.Render("● " + line)
		default:
			line = warningStyle.Render("ℹ " + line)
		}
		logContent.WriteString(fmt.Sprintf("%s %s\n",
			headerStyle.Render(e.Time.Local().Format("01/02/06 15:04:05.000")), line))
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))
	return s.String()
}
