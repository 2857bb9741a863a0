package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/pkg/client"
)

const statusPollInterval = 500 * time.Millisecond

type tickMsg time.Time

type statusMsg struct {
	status sentinel.Status
	err    error
}

func tick() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// reprocessModel renders a job's progress until it leaves the active state.
type reprocessModel struct {
	ctx        context.Context
	client     *client.Client
	bar        progress.Model
	status     sentinel.Status
	seenActive bool
	done       bool
	err        error
}

func newReprocessModel(ctx context.Context, c *client.Client) reprocessModel {
	return reprocessModel{
		ctx:    ctx,
		client: c,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
	}
}

func (m reprocessModel) fetch() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.ReprocessStatus(m.ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m reprocessModel) Init() tea.Cmd {
	return m.fetch()
}

func (m reprocessModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-10, 10), 80)
	case tickMsg:
		return m, m.fetch()
	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.status = msg.status
		if m.status.Active {
			m.seenActive = true
		}
		if m.status.Warning != "" || (!m.status.Active && !m.status.Requested) || (m.status.Active && m.status.Done()) {
			m.done = true
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m reprocessModel) View() string {
	var b strings.Builder
	b.WriteString(cli.TitleStyle.Render("Reprocessing"))
	b.WriteString("\n\n")

	st := m.status
	switch {
	case m.err != nil:
		b.WriteString(cli.ErrorStyle.Render(m.err.Error()))
	case st.Warning != "":
		b.WriteString(cli.ErrorStyle.Render("Warning: " + st.Warning))
	case st.Active:
		pct := 1.0
		if st.Total > 0 {
			pct = float64(st.Processed()) / float64(st.Total)
		}
		b.WriteString(m.bar.ViewAs(pct))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%d/%d processed", st.Processed(), st.Total))
		if st.Failed > 0 {
			b.WriteString(cli.ErrorStyle.Render(fmt.Sprintf("  %d failed", st.Failed)))
		}
		if st.Done() {
			b.WriteString("\n" + cli.SuccessStyle.Render("Finished"))
		}
	case st.Requested:
		b.WriteString(cli.MutedStyle.Render("Waiting for the ingest process to pick up the request"))
	case m.done && m.seenActive:
		b.WriteString(cli.SuccessStyle.Render("Finished"))
	case m.done:
		b.WriteString("No reprocessing job")
	default:
		b.WriteString(cli.MutedStyle.Render("Checking status..."))
	}
	b.WriteString("\n")
	if !m.done && m.err == nil {
		b.WriteString(cli.MutedStyle.Render("\nq to stop watching") + "\n")
	}
	return b.String()
}

func runReprocessTUI(ctx context.Context, c *client.Client) error {
	p := tea.NewProgram(newReprocessModel(ctx, c), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if m, ok := final.(reprocessModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
