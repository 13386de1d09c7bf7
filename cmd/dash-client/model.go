package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"cryptodash/internal/dashboard"
	"cryptodash/internal/domain"
	"cryptodash/internal/layout"
	"cryptodash/internal/marketdata"
	"cryptodash/internal/pricebus"
	"cryptodash/pkg/cryptodash"
)

// Messages.
type priceMsg struct {
	coin  string
	price float64
}

type busStateMsg pricebus.State
type statusMsg string
type sessionEndedMsg struct{}

type pageOpenedMsg struct {
	page *dashboard.Page
	err  error
}

type chartsLoadedMsg struct {
	key  string
	data map[string]marketdata.Result[domain.Series]
}

type opDoneMsg struct {
	what   string
	err    error
	reload bool // widget set or data settings changed
}

type watchlistLoadedMsg struct{ err error }

type dashboardCreatedMsg struct {
	d   domain.Dashboard
	err error
}

// inputMode is what the text input is collecting.
type inputMode int

const (
	inputNone inputMode = iota
	inputAddCoin
	inputRenameWidget
	inputRenameDashboard
	inputNewDashboard
)

func (m inputMode) prompt() string {
	switch m {
	case inputAddCoin:
		return "coin id: "
	case inputRenameWidget:
		return "widget title: "
	case inputRenameDashboard:
		return "dashboard name: "
	case inputNewDashboard:
		return "new dashboard: "
	}
	return ""
}

// Model.
type model struct {
	ctx    context.Context
	app    *cryptodash.Client
	events chan tea.Msg
	logger *slog.Logger

	dashboards []domain.Dashboard
	dashIdx    int
	page       *dashboard.Page
	widgets    []domain.Widget
	charts     map[string]marketdata.Result[domain.Series]
	selected   int

	busState pricebus.State
	status   string
	loading  bool

	mode  inputMode
	input textinput.Model

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(ctx context.Context, app *cryptodash.Client, ds []domain.Dashboard, events chan tea.Msg, logger *slog.Logger) model {
	ti := textinput.New()
	ti.CharLimit = 64
	return model{
		ctx:        ctx,
		app:        app,
		events:     events,
		logger:     logger,
		dashboards: ds,
		charts:     make(map[string]marketdata.Result[domain.Series]),
		input:      ti,
		loading:    true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitEvent(m.events),
		m.openPage(m.dashboards[m.dashIdx].Key()),
		m.loadWatchlist(),
	)
}

// waitEvent turns the callback channel into messages.
func waitEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

func (m model) openPage(key string) tea.Cmd {
	app, ctx, events := m.app, m.ctx, m.events
	return func() tea.Msg {
		page, err := app.Dashboards.Open(ctx, key, dashboard.PageOptions{
			OnPrice: func(coin string, price float64) { post(events, priceMsg{coin, price}) },
		})
		return pageOpenedMsg{page: page, err: err}
	}
}

func (m model) loadCharts() tea.Cmd {
	if m.page == nil {
		return nil
	}
	page, ctx := m.page, m.ctx
	key := page.Dashboard().Key()
	return func() tea.Msg {
		return chartsLoadedMsg{key: key, data: page.AllChartData(ctx)}
	}
}

func (m model) loadWatchlist() tea.Cmd {
	wl, ctx := m.app.Watchlist, m.ctx
	return func() tea.Msg { return watchlistLoadedMsg{err: wl.Load(ctx)} }
}

// run executes a page mutation off the UI goroutine.
func (m model) run(what string, reload bool, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg { return opDoneMsg{what: what, err: fn(ctx), reload: reload} }
}

func (m model) selectedWidget() (domain.Widget, bool) {
	if m.selected < 0 || m.selected >= len(m.widgets) {
		return domain.Widget{}, false
	}
	return m.widgets[m.selected], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(m.height-3, 1) // header, status, footer
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

	case priceMsg:
		m.refresh()
		return m, waitEvent(m.events)

	case busStateMsg:
		m.busState = pricebus.State(msg)
		return m, waitEvent(m.events)

	case statusMsg:
		m.status = string(msg)
		return m, waitEvent(m.events)

	case sessionEndedMsg:
		m.logger.Warn("session expired")
		return m, tea.Sequence(tea.Printf("session expired; sign in again with dash-cli login"), tea.Quit)

	case pageOpenedMsg:
		if msg.err != nil {
			m.status = "opening dashboard: " + msg.err.Error()
			m.loading = false
			return m, nil
		}
		m.page = msg.page
		m.selected = 0
		m.charts = make(map[string]marketdata.Result[domain.Series])
		m.widgets = m.page.Widgets()
		m.refresh()
		return m, m.loadCharts()

	case chartsLoadedMsg:
		if m.page == nil || msg.key != m.page.Dashboard().Key() {
			return m, nil
		}
		m.loading = false
		m.charts = msg.data
		m.refresh()
		return m, nil

	case opDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.what, msg.err)
			m.logger.Warn("operation failed", "op", msg.what, "error", msg.err)
		} else {
			m.status = msg.what
		}
		if m.page == nil {
			return m, nil
		}
		m.widgets = m.page.Widgets()
		m.selected = min(m.selected, max(len(m.widgets)-1, 0))
		m.refresh()
		if msg.reload {
			return m, m.loadCharts()
		}
		return m, nil

	case dashboardCreatedMsg:
		if msg.err != nil {
			m.status = "creating dashboard failed: " + msg.err.Error()
			return m, nil
		}
		m.dashboards = m.app.Dashboards.Dashboards()
		for i, d := range m.dashboards {
			if d.Key() == msg.d.Key() {
				m.dashIdx = i
			}
		}
		cmd := m.switchTo(m.dashIdx)
		return m, cmd

	case watchlistLoadedMsg:
		if msg.err != nil {
			m.logger.Warn("loading watchlist", "error", msg.err)
		}
		m.refresh()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	w, hasWidget := m.selectedWidget()
	switch msg.String() {
	case "q", "ctrl+c":
		if m.page != nil {
			if err := m.page.Close(m.ctx); err != nil {
				m.logger.Error("closing page", "error", err)
			}
		}
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.widgets)-1 {
			m.selected++
		}

	case "tab":
		if len(m.dashboards) > 1 {
			cmd := m.switchTo((m.dashIdx + 1) % len(m.dashboards))
			return m, cmd
		}
	case "shift+tab":
		if len(m.dashboards) > 1 {
			cmd := m.switchTo((m.dashIdx + len(m.dashboards) - 1) % len(m.dashboards))
			return m, cmd
		}

	case "a":
		return m.startInput(inputAddCoin, "")
	case "n":
		return m.startInput(inputNewDashboard, "")
	case "R":
		if m.page != nil {
			return m.startInput(inputRenameDashboard, m.page.Dashboard().Name)
		}
	case "e":
		if hasWidget {
			return m.startInput(inputRenameWidget, w.Title)
		}

	case "d", "delete":
		if hasWidget {
			page := m.page
			return m, m.run("removed "+w.Title, true, func(ctx context.Context) error {
				return page.RemoveWidget(ctx, w.ID)
			})
		}

	case "p":
		if hasWidget {
			next := nextPeriod(w.Period)
			page := m.page
			return m, m.run("period "+string(next), true, func(ctx context.Context) error {
				_, err := page.UpdateWidget(ctx, w.ID, layout.Patch{Period: &next})
				return err
			})
		}
	case "c":
		if hasWidget {
			ct := domain.ChartPrediction
			if w.ChartType == domain.ChartPrediction {
				ct = domain.ChartReal
			}
			page := m.page
			return m, m.run("chart "+string(ct), true, func(ctx context.Context) error {
				_, err := page.UpdateWidget(ctx, w.ID, layout.Patch{ChartType: &ct})
				return err
			})
		}

	case "K", "J", "H", "L", "+", "-":
		if hasWidget {
			m.moveSelected(w, msg.String())
		}

	case " ":
		if hasWidget {
			wl := m.app.Watchlist
			coin := w.Coin
			return m, m.run("watchlist "+coin, false, func(ctx context.Context) error {
				_, err := wl.Toggle(ctx, coin)
				return err
			})
		}

	case "r":
		m.app.Market.Clear()
		m.loading = true
		return m, m.loadCharts()

	case "f":
		if m.page != nil {
			page := m.page
			return m, m.run("layout saved", false, page.Flush)
		}
	}
	m.refresh()
	return m, nil
}

// moveSelected nudges or resizes the selected widget. The store coalesces
// rapid key presses into one save.
func (m *model) moveSelected(w domain.Widget, key string) {
	r := w.Layout
	switch key {
	case "K":
		r.Y--
	case "J":
		r.Y++
	case "H":
		r.X--
	case "L":
		r.X++
	case "+":
		r.W++
	case "-":
		r.W--
	}
	err := m.page.MoveOrResize(m.ctx, []layout.Change{{ID: w.ID, X: r.X, Y: r.Y, W: r.W, H: r.H}})
	if err != nil {
		m.status = "move failed: " + err.Error()
		return
	}
	m.widgets = m.page.Widgets()
}

func (m model) startInput(mode inputMode, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Prompt = mode.prompt()
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()
		return m, m.submit(mode, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit(mode inputMode, value string) tea.Cmd {
	page := m.page
	switch mode {
	case inputAddCoin:
		if value == "" || page == nil {
			return nil
		}
		return m.run("added "+value, true, func(ctx context.Context) error {
			_, err := page.AddWidget(ctx, layout.WidgetSpec{Coin: strings.ToLower(value)})
			return err
		})
	case inputRenameWidget:
		w, ok := m.selectedWidget()
		if !ok {
			return nil
		}
		return m.run("renamed widget", false, func(ctx context.Context) error {
			return page.RenameWidget(ctx, w.ID, value)
		})
	case inputRenameDashboard:
		return m.run("renamed dashboard", false, func(ctx context.Context) error {
			return page.Rename(ctx, value)
		})
	case inputNewDashboard:
		ctrl, ctx := m.app.Dashboards, m.ctx
		return func() tea.Msg {
			d, err := ctrl.Create(ctx, value, domain.DashboardPrice)
			return dashboardCreatedMsg{d: d, err: err}
		}
	}
	return nil
}

// switchTo closes the open page and opens dashboard i.
func (m *model) switchTo(i int) tea.Cmd {
	if m.page != nil {
		if err := m.page.Close(m.ctx); err != nil {
			m.status = "saving dashboard failed: " + err.Error()
		}
		m.page = nil
	}
	m.dashboards = m.app.Dashboards.Dashboards()
	if i >= len(m.dashboards) {
		i = 0
	}
	m.dashIdx = i
	m.widgets = nil
	m.loading = true
	return m.openPage(m.dashboards[i].Key())
}

func nextPeriod(p domain.Period) domain.Period {
	for i, q := range domain.Periods {
		if q == p {
			return domain.Periods[(i+1)%len(domain.Periods)]
		}
	}
	return domain.Period7D
}
