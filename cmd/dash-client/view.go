package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"cryptodash/internal/dashboard"
	"cryptodash/internal/domain"
	"cryptodash/internal/marketdata"
	"cryptodash/internal/pricebus"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	titleHlStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))  // brighter blue for highlight
	titleWlStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")) // orange for watchlist
	titleWlHlStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	sparkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	forecastStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	highlightBG    = lipgloss.Color("236") // dark grey background
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

func busStyle(s pricebus.State) lipgloss.Style {
	switch s {
	case pricebus.StateConnected:
		return gainStyle
	case pricebus.StateConnecting:
		return warnStyle
	default:
		return lossStyle
	}
}

// refresh re-renders the widget list into the viewport.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderContent())
}

func (m model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	name := "-"
	if m.page != nil {
		name = m.page.Dashboard().Name
	}
	headerText := fmt.Sprintf(" %s  [%d/%d]    widgets: %d    ",
		name, m.dashIdx+1, len(m.dashboards), len(m.widgets))
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Render(padOrTrunc(headerText, m.width-len(m.busState.String())-2))
	headerBar += busStyle(m.busState).Background(lipgloss.Color("4")).Render(" " + m.busState.String() + " ")

	statusLine := ""
	if m.mode != inputNone {
		statusLine = " " + m.input.View()
	} else if m.status != "" {
		statusLine = dimStyle.Render(padOrTrunc(" "+m.status, m.width))
	}

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  tab next  a add  d del  e title  R name  n new  p period  c chart  J/K/H/L move  +/- size  space watch  r reload"
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := max(m.width-len(footerLeft)-len(footerRight), 0)
	footerText := footerLeft + strings.Repeat(" ", gap) + footerRight
	footerBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Render(padOrTrunc(footerText, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + statusLine + "\n" + footerBar
}

// renderContent lists widgets in grid reading order.
func (m model) renderContent() string {
	var b strings.Builder
	if m.page == nil {
		b.WriteString(dimStyle.Render("  Loading..."))
		b.WriteString("\n")
		return b.String()
	}
	if len(m.widgets) == 0 {
		b.WriteString(dimStyle.Render("  (no widgets; press a to add one)"))
		b.WriteString("\n")
		return b.String()
	}

	order := make([]int, len(m.widgets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool {
		ra, rc := m.widgets[order[a]].Layout, m.widgets[order[c]].Layout
		if ra.Y != rc.Y {
			return ra.Y < rc.Y
		}
		return ra.X < rc.X
	})

	sparkWidth := max(m.width-72, 10)
	for _, i := range order {
		m.renderWidget(&b, m.widgets[i], i == m.selected, sparkWidth)
	}
	return b.String()
}

func (m model) renderWidget(b *strings.Builder, w domain.Widget, hl bool, sparkWidth int) {
	watched := m.app.Watchlist.Contains(w.Coin)
	ts := titleStyle
	switch {
	case watched && hl:
		ts = titleWlHlStyle
	case watched:
		ts = titleWlStyle
	case hl:
		ts = titleHlStyle
	}
	sp := hlStyle(lipgloss.NewStyle(), hl).Render(" ")

	b.WriteString(hlStyle(ts, hl).Render(padOrTrunc(" "+w.Title, 22)))
	b.WriteString(sp)
	b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("%-6s %-10s %2d,%-2d %2dx%-2d",
		w.Period, w.ChartType, w.Layout.X, w.Layout.Y, w.Layout.W, w.Layout.H)))
	b.WriteString(sp)

	if live, ok := m.page.LivePrice(w.Coin); ok {
		b.WriteString(hlStyle(priceStyle, hl).Render(fmt.Sprintf("%12s", dashboard.FormatPrice(live))))
	} else {
		b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("%12s", "-")))
	}
	b.WriteString(sp)

	res, ok := m.charts[w.ID]
	switch {
	case !ok && m.loading:
		b.WriteString(hlStyle(dimStyle, hl).Render("loading..."))
	case !ok || !res.OK():
		b.WriteString(hlStyle(lossStyle, hl).Render("no data"))
	default:
		prices := make([]float64, len(res.Value))
		for i, p := range res.Value {
			prices[i] = p.Price
		}
		if len(prices) > 1 && prices[0] != 0 {
			chg := (prices[len(prices)-1] - prices[0]) / prices[0] * 100
			cs := gainStyle
			if chg < 0 {
				cs = lossStyle
			}
			b.WriteString(hlStyle(cs, hl).Render(fmt.Sprintf("%8s", dashboard.FormatChange(chg))))
			b.WriteString(sp)
		}
		ss := sparkStyle
		if w.ChartType == domain.ChartPrediction {
			ss = forecastStyle
		}
		b.WriteString(hlStyle(ss, hl).Render(dashboard.Sparkline(prices, sparkWidth)))
		if res.Source.Degraded() {
			b.WriteString(hlStyle(warnStyle, hl).Render(" " + sourceTag(res.Source)))
		}
	}
	b.WriteString("\n")
}

func sourceTag(s marketdata.Source) string {
	if s == marketdata.SourceSynthetic {
		return "[demo]"
	}
	return "[" + s.String() + "]"
}

func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return ""
	}
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}
