package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tradelab/internal/store"
	"tradelab/internal/sweep"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// signed colours v by sign.
func signed(format string, v float64) string {
	s := fmt.Sprintf(format, v)
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	default:
		return s
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func formatParams(p map[string]float64) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

// renderRun formats one run's summary and metrics.
func renderRun(rec *store.RunRecord) string {
	res := rec.Result
	m := res.Metrics

	title := fmt.Sprintf("%s on %s", rec.Strategy, strings.Join(rec.Symbols, ","))
	if rec.ID != "" {
		title += mutedStyle.Render("  " + rec.ID)
	}

	lines := []string{
		titleStyle.Render(title),
		"",
		row("params", formatParams(rec.Params)),
		row("initial", fmt.Sprintf("%.2f", res.InitialCapital)),
		row("final", fmt.Sprintf("%.2f", res.FinalCapital)),
		row("total return", signed("%+.2f%%", m.TotalReturnPct)),
		row("max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct)),
		row("sharpe", fmt.Sprintf("%.3f", m.SharpeRatio)),
		row("sortino", fmt.Sprintf("%.3f", m.SortinoRatio)),
		row("calmar", fmt.Sprintf("%.3f", m.CalmarRatio)),
		row("expectancy", signed("%+.2f", m.Expectancy)),
		row("sqn", fmt.Sprintf("%.3f", m.SQN)),
		row("win rate", fmt.Sprintf("%.1f%%", m.WinRatePct)),
		row("trades", fmt.Sprintf("%d", m.TradeCount)),
	}
	if res.Halted {
		lines = append(lines, "", warnStyle.Render("halted by drawdown limit at "+res.HaltedAt.Format("2006-01-02")))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderSweep formats the best top outcomes of a sweep; top <= 0 prints all.
func renderSweep(outcomes []sweep.Outcome, objective string, top int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("sweep: %d runs ranked by %s", len(outcomes), objective)))
	b.WriteString("\n\n")
	b.WriteString(headStyle.Render(fmt.Sprintf("%-4s %12s %10s %10s %7s  %s", "#", objective, "return%", "maxDD%", "trades", "params")))
	b.WriteString("\n")

	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		if top > 0 && i >= top {
			continue
		}
		line := fmt.Sprintf("%-4d %12.4f %10.2f %10.2f %7d  %s",
			i+1, o.Score, o.Result.Metrics.TotalReturnPct, o.Result.Metrics.MaxDrawdownPct,
			o.Result.Metrics.TradeCount, formatParams(o.Params))
		if o.Halted() {
			line += " " + warnStyle.Render("[halted]")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if failed > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d combinations failed", failed)))
		b.WriteString("\n")
		for _, o := range outcomes {
			if o.Err != nil {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("  %s: %v", formatParams(o.Params), o.Err)))
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderRunList formats persisted run summaries, newest first.
func renderRunList(runs []store.RunSummary) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no runs")
	}
	var b strings.Builder
	b.WriteString(headStyle.Render(fmt.Sprintf("%-36s  %-16s  %-18s  %12s  %9s  %s", "id", "created", "strategy", "final", "return%", "symbols")))
	for _, r := range runs {
		b.WriteString("\n")
		line := fmt.Sprintf("%-36s  %-16s  %-18s  %12.2f  %9s  %s",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Strategy, r.FinalCapital,
			fmt.Sprintf("%+.2f", r.Metrics.TotalReturnPct), strings.Join(r.Symbols, ","))
		if r.Halted {
			line += " " + warnStyle.Render("[halted]")
		}
		b.WriteString(line)
	}
	return b.String()
}
