// Package dashboard loads, creates and deletes the user's dashboards and
// opens pages that tie a dashboard's widgets to market data and live
// prices.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cryptodash/internal/domain"
	"cryptodash/internal/layout"
	"cryptodash/internal/marketdata"
)

// ErrUnknownDashboard is returned for a key that matches no dashboard.
var ErrUnknownDashboard = errors.New("unknown dashboard")

// Remote is the dashboard part of the user API.
type Remote interface {
	Dashboards(ctx context.Context) ([]domain.Dashboard, error)
	CreateDashboard(ctx context.Context, d domain.Dashboard) (domain.Dashboard, error)
	UpdateDashboard(ctx context.Context, key string, upd domain.DashboardUpdate) error
	DeleteDashboard(ctx context.Context, key string) error
}

// Mirror is the local layout recovery cache.
type Mirror interface {
	Layouts(key string) map[string]domain.GridRect
	SaveLayouts(ctx context.Context, key string, widgets []domain.Widget) error
	Forget(ctx context.Context, key string) error
}

// Market serves chart data and prices.
type Market interface {
	ChartSeries(ctx context.Context, w domain.Widget) marketdata.Result[domain.Series]
	Prices(ctx context.Context, coins []string) []marketdata.Item[float64]
}

// PriceFeed delivers live prices per coin.
type PriceFeed interface {
	SubscribeToPrice(coin string, fn func(price float64)) (unsubscribe func())
}

// Controller owns the dashboard list.
type Controller struct {
	mu         sync.RWMutex
	dashboards []domain.Dashboard

	remote Remote
	mirror Mirror
	market Market
	feed   PriceFeed
	layout layout.Options
	log    *slog.Logger
}

// NewController wires a controller. layoutOpts applies to every page it
// opens.
func NewController(remote Remote, mirror Mirror, market Market, feed PriceFeed, layoutOpts layout.Options, log *slog.Logger) *Controller {
	return &Controller{
		remote: remote,
		mirror: mirror,
		market: market,
		feed:   feed,
		layout: layoutOpts,
		log:    log,
	}
}

// Load fetches the dashboard list and reconciles each dashboard with the
// mirrored layouts.
func (c *Controller) Load(ctx context.Context) ([]domain.Dashboard, error) {
	ds, err := c.remote.Dashboards(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading dashboards: %w", err)
	}
	for i := range ds {
		var saved map[string]domain.GridRect
		if c.mirror != nil {
			saved = c.mirror.Layouts(ds[i].Key())
		}
		ds[i] = layout.Normalize(ds[i], saved)
	}

	c.mu.Lock()
	c.dashboards = ds
	c.mu.Unlock()
	c.log.Info("dashboards loaded", "count", len(ds))
	return c.Dashboards(), nil
}

// Dashboards returns a copy of the loaded list.
func (c *Controller) Dashboards() []domain.Dashboard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Dashboard, len(c.dashboards))
	for i, d := range c.dashboards {
		out[i] = d.Clone()
	}
	return out
}

// Find returns the dashboard whose key, id or uuid equals key.
func (c *Controller) Find(key string) (domain.Dashboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(key); i >= 0 {
		return c.dashboards[i].Clone(), true
	}
	return domain.Dashboard{}, false
}

// Create stores a new dashboard holding the default bitcoin chart. The
// client assigns a uuid; the server may answer with its own id, which is
// adopted.
func (c *Controller) Create(ctx context.Context, name string, typ domain.DashboardType) (domain.Dashboard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultDashboardName
	}
	if typ == "" {
		typ = domain.DashboardPrice
	}
	id := uuid.NewString()
	d := domain.Dashboard{
		ID:      id,
		UUID:    id,
		Name:    name,
		Type:    typ,
		Widgets: []domain.Widget{DefaultWidget(id)},
	}

	created, err := c.remote.CreateDashboard(ctx, d)
	if err != nil {
		return domain.Dashboard{}, fmt.Errorf("creating dashboard %q: %w", name, err)
	}
	if created.ID == "" {
		created.ID = d.ID
	}
	if created.Name == "" {
		created.Name = d.Name
	}
	if created.Type == "" {
		created.Type = d.Type
	}
	if len(created.Widgets) == 0 {
		created.Widgets = d.Widgets
	}
	created = layout.Normalize(created, nil)

	if c.mirror != nil {
		if err := c.mirror.SaveLayouts(ctx, created.Key(), created.Widgets); err != nil {
			c.log.Warn("mirroring new dashboard failed", "dashboard", created.Key(), "error", err)
		}
	}
	c.mu.Lock()
	c.dashboards = append(c.dashboards, created)
	c.mu.Unlock()
	c.log.Info("dashboard created", "dashboard", created.Key(), "name", created.Name)
	return created.Clone(), nil
}

// Delete removes a dashboard remotely, then from the mirror and the list.
func (c *Controller) Delete(ctx context.Context, key string) error {
	d, ok := c.Find(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDashboard, key)
	}
	if err := c.remote.DeleteDashboard(ctx, d.Key()); err != nil {
		return fmt.Errorf("deleting dashboard %s: %w", d.Key(), err)
	}
	if c.mirror != nil {
		if err := c.mirror.Forget(ctx, d.Key()); err != nil {
			c.log.Warn("dropping mirrored layouts failed", "dashboard", d.Key(), "error", err)
		}
	}
	c.mu.Lock()
	if i := c.indexLocked(d.Key()); i >= 0 {
		c.dashboards = slices.Delete(c.dashboards, i, i+1)
	}
	c.mu.Unlock()
	c.log.Info("dashboard deleted", "dashboard", d.Key())
	return nil
}

// Open starts a page for the dashboard identified by key.
func (c *Controller) Open(ctx context.Context, key string, opts PageOptions) (*Page, error) {
	d, ok := c.Find(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDashboard, key)
	}
	return newPage(ctx, c, d, opts), nil
}

// replace stores the final state of a closed page.
func (c *Controller) replace(d domain.Dashboard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(d.Key()); i >= 0 {
		c.dashboards[i] = d.Clone()
	}
}

func (c *Controller) indexLocked(key string) int {
	return slices.IndexFunc(c.dashboards, func(d domain.Dashboard) bool {
		return d.Key() == key || d.ID == key || (d.UUID != "" && d.UUID == key)
	})
}

// DefaultWidget is the chart a new dashboard starts with.
func DefaultWidget(dashboardKey string) domain.Widget {
	return domain.Widget{
		ID:        fmt.Sprintf("widget-%s-0", dashboardKey),
		Type:      domain.WidgetPriceChart,
		Coin:      "bitcoin",
		Period:    domain.Period7D,
		ChartType: domain.ChartReal,
		Title:     domain.DefaultWidgetTitle("bitcoin"),
		Layout:    layout.DefaultRect(0),
	}
}
