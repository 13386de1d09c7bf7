package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"cryptodash/internal/domain"
	"cryptodash/internal/layout"
	"cryptodash/internal/marketdata"
)

// PageOptions tunes an open page.
type PageOptions struct {
	// OnPrice receives live prices for the coins on the page. It runs on
	// the price bus reader and must not block.
	OnPrice func(coin string, price float64)
	// OnError receives errors of debounced layout persists.
	OnError func(error)
}

// Page is an open dashboard: its layout store, a live price subscription
// per widget coin and chart data lookups.
type Page struct {
	store *layout.Store
	ctrl  *Controller
	opts  PageOptions
	log   *slog.Logger

	mu     sync.Mutex
	subs   map[string]func()
	prices map[string]float64
	closed bool
}

func newPage(ctx context.Context, c *Controller, d domain.Dashboard, opts PageOptions) *Page {
	lopts := c.layout
	if opts.OnError != nil {
		lopts.OnError = opts.OnError
	}
	p := &Page{
		store:  layout.New(d, c.remote, c.mirror, lopts, c.log),
		ctrl:   c,
		opts:   opts,
		log:    c.log.With("dashboard", d.Key()),
		subs:   make(map[string]func()),
		prices: make(map[string]float64),
	}
	p.resync()
	p.seedPrices(ctx)
	return p
}

// Dashboard returns the current state of the page's dashboard.
func (p *Page) Dashboard() domain.Dashboard { return p.store.Snapshot() }

// Widgets returns the page's widgets.
func (p *Page) Widgets() []domain.Widget { return p.store.Widgets() }

// AddWidget adds a chart and subscribes to its coin.
func (p *Page) AddWidget(ctx context.Context, spec layout.WidgetSpec) (domain.Widget, error) {
	w, err := p.store.AddWidget(ctx, spec)
	p.resync()
	return w, err
}

// RemoveWidget removes a chart and drops its coin subscription when no other
// widget shows that coin.
func (p *Page) RemoveWidget(ctx context.Context, id string) error {
	err := p.store.RemoveWidget(ctx, id)
	p.resync()
	return err
}

// UpdateWidget edits a chart's data settings.
func (p *Page) UpdateWidget(ctx context.Context, id string, patch layout.Patch) (domain.Widget, error) {
	w, err := p.store.UpdateWidget(ctx, id, patch)
	p.resync()
	return w, err
}

// MoveOrResize applies grid changes; persistence is debounced.
func (p *Page) MoveOrResize(ctx context.Context, changes []layout.Change) error {
	return p.store.MoveOrResize(ctx, changes)
}

// RenameWidget sets a widget title.
func (p *Page) RenameWidget(ctx context.Context, id, title string) error {
	return p.store.RenameWidget(ctx, id, title)
}

// Rename sets the dashboard name.
func (p *Page) Rename(ctx context.Context, name string) error {
	return p.store.RenameDashboard(ctx, name)
}

// Flush persists a pending layout change now.
func (p *Page) Flush(ctx context.Context) error { return p.store.Flush(ctx) }

// ChartData returns the series a widget plots: history for real charts,
// the forecast for prediction charts.
func (p *Page) ChartData(ctx context.Context, w domain.Widget) marketdata.Result[domain.Series] {
	return p.ctrl.market.ChartSeries(ctx, w)
}

// AllChartData loads the series of every widget concurrently, keyed by
// widget id.
func (p *Page) AllChartData(ctx context.Context) map[string]marketdata.Result[domain.Series] {
	ws := p.Widgets()
	results := make([]marketdata.Result[domain.Series], len(ws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, w := range ws {
		g.Go(func() error {
			results[i] = p.ChartData(gctx, w)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]marketdata.Result[domain.Series], len(ws))
	for i, w := range ws {
		out[w.ID] = results[i]
	}
	return out
}

// LivePrice returns the latest price seen for coin, live or seeded.
func (p *Page) LivePrice(coin string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[coin]
	return v, ok
}

// Coins returns the coins the page is subscribed to.
func (p *Page) Coins() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.subs))
	for c := range p.subs {
		out = append(out, c)
	}
	return out
}

// Close unsubscribes every coin, flushes pending layout changes and hands
// the final state back to the controller.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = make(map[string]func())
	p.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	err := p.store.Close(ctx)
	p.ctrl.replace(p.store.Snapshot())
	return err
}

// resync subscribes to exactly the coins on the page.
func (p *Page) resync() {
	if p.ctrl.feed == nil {
		return
	}
	want := make(map[string]bool)
	for _, w := range p.store.Widgets() {
		want[w.Coin] = true
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var drop []func()
	for coin, unsub := range p.subs {
		if !want[coin] {
			drop = append(drop, unsub)
			delete(p.subs, coin)
		}
	}
	for coin := range want {
		if _, ok := p.subs[coin]; ok {
			continue
		}
		p.subs[coin] = p.ctrl.feed.SubscribeToPrice(coin, func(price float64) { p.observe(coin, price) })
	}
	p.mu.Unlock()

	for _, unsub := range drop {
		unsub()
	}
}

func (p *Page) observe(coin string, price float64) {
	p.mu.Lock()
	p.prices[coin] = price
	p.mu.Unlock()
	if p.opts.OnPrice != nil {
		p.opts.OnPrice(coin, price)
	}
}

// seedPrices fills prices for coins that have not ticked yet.
func (p *Page) seedPrices(ctx context.Context) {
	coins := p.Coins()
	if len(coins) == 0 || p.ctrl.market == nil {
		return
	}
	for _, it := range p.ctrl.market.Prices(ctx, coins) {
		if !it.OK() {
			continue
		}
		p.mu.Lock()
		if _, ok := p.prices[it.ID]; !ok {
			p.prices[it.ID] = it.Value
		}
		p.mu.Unlock()
	}
}
