package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tradelab/internal/domain"
	"tradelab/internal/store"
)

var (
	barStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("4"))
	footStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("8"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
)

// runGetter is the part of store.RunStore the browser needs.
type runGetter interface {
	GetRun(ctx context.Context, id string) (*store.RunRecord, error)
}

type runLoadedMsg struct {
	rec *store.RunRecord
	err error
}

// browseModel lists persisted runs and shows one in detail on enter.
type browseModel struct {
	ctx    context.Context
	runs   []store.RunSummary
	getter runGetter

	cursor  int
	detail  *store.RunRecord
	loading bool
	err     error

	viewport      viewport.Model
	ready         bool
	width, height int
}

func newBrowseModel(ctx context.Context, runs []store.RunSummary, getter runGetter) browseModel {
	return browseModel{ctx: ctx, runs: runs, getter: getter}
}

func (m browseModel) Init() tea.Cmd { return nil }

func (m browseModel) loadRun(id string) tea.Cmd {
	return func() tea.Msg {
		rec, err := m.getter.GetRun(m.ctx, id)
		return runLoadedMsg{rec: rec, err: err}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc", "backspace":
			if m.detail != nil || m.err != nil {
				m.detail, m.err = nil, nil
				m.refresh()
				m.ensureVisible()
			}
			return m, nil
		case "up", "k":
			if m.detail == nil && m.cursor > 0 {
				m.cursor--
				m.refresh()
				m.ensureVisible()
			}
			if m.detail == nil {
				return m, nil
			}
		case "down", "j":
			if m.detail == nil && m.cursor < len(m.runs)-1 {
				m.cursor++
				m.refresh()
				m.ensureVisible()
			}
			if m.detail == nil {
				return m, nil
			}
		case "enter":
			if m.detail == nil && !m.loading && len(m.runs) > 0 {
				m.loading = true
				m.refresh()
				return m, m.loadRun(m.runs[m.cursor].ID)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(m.height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case runLoadedMsg:
		m.loading = false
		m.detail, m.err = msg.rec, msg.err
		m.refresh()
		if m.ready {
			m.viewport.GotoTop()
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *browseModel) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// ensureVisible scrolls the list so the cursor row is on screen. Row 0 is
// the column header.
func (m *browseModel) ensureVisible() {
	if !m.ready || m.detail != nil {
		return
	}
	line := m.cursor + 1
	if line < m.viewport.YOffset {
		m.viewport.SetYOffset(line)
	} else if line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(line - m.viewport.Height + 1)
	}
}

func (m browseModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := fmt.Sprintf(" tradelab runs    %d stored ", len(m.runs))
	footer := " q quit  up/dn select  enter open  esc back  pgup/dn scroll"
	switch {
	case m.loading:
		header = fmt.Sprintf(" tradelab runs    loading %s... ", m.runs[m.cursor].ID)
	case m.detail != nil:
		header = fmt.Sprintf(" run %s    %d/%d ", m.detail.ID, m.cursor+1, len(m.runs))
	}
	pct := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := max(m.width-len(footer)-len(pct), 0)

	return barStyle.Render(padOrTrunc(header, m.width)) + "\n" +
		m.viewport.View() + "\n" +
		footStyle.Render(padOrTrunc(footer+strings.Repeat(" ", gap)+pct, m.width))
}

func (m browseModel) renderContent() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error()) + "\n" + mutedStyle.Render("esc to go back")
	}
	if m.detail != nil {
		return renderRun(m.detail) + "\n\n" + renderTrades(m.detail.Result.Trades)
	}
	if len(m.runs) == 0 {
		return mutedStyle.Render("no runs")
	}

	lines := strings.Split(renderRunList(m.runs), "\n")
	for i := range m.runs {
		if i == m.cursor {
			lines[i+1] = cursorStyle.Render(lines[i+1])
		}
	}
	return strings.Join(lines, "\n")
}

// renderTrades formats a trade ledger, oldest first.
func renderTrades(trades []domain.Trade) string {
	if len(trades) == 0 {
		return mutedStyle.Render("no trades")
	}
	var b strings.Builder
	b.WriteString(headStyle.Render(fmt.Sprintf("%-10s  %-4s  %-8s  %10s  %10s  %8s  %12s  %s",
		"date", "side", "symbol", "qty", "price", "fee", "pnl", "reason")))
	for _, t := range trades {
		pnl := mutedStyle.Render(fmt.Sprintf("%12s", "-"))
		if t.RealizedPnL != nil {
			pnl = signed("%+12.2f", *t.RealizedPnL)
		}
		fmt.Fprintf(&b, "\n%-10s  %-4s  %-8s  %10.2f  %10.2f  %8.2f  %s  %s",
			t.Timestamp.Format("2006-01-02"), t.Action, t.Symbol, t.Quantity, t.Price, t.Fee, pnl, t.Reason)
	}
	return b.String()
}

func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	r := []rune(s)
	if len(r) > width {
		return string(r[:width])
	}
	return s
}
