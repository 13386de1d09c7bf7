// Package cryptodash assembles the dashboard client from configuration:
// local storage, the user and market API clients, the live price bus and
// the dashboard, watchlist and alert managers built on top of them.
package cryptodash

import (
	"context"
	"fmt"
	"log/slog"

	"cryptodash/internal/alerts"
	"cryptodash/internal/archive"
	"cryptodash/internal/config"
	"cryptodash/internal/dashboard"
	"cryptodash/internal/layout"
	"cryptodash/internal/localstore"
	"cryptodash/internal/marketdata"
	"cryptodash/internal/pricebus"
	"cryptodash/internal/userapi"
	"cryptodash/internal/util"
	"cryptodash/internal/watchlist"
)

// Hooks are the navigation callbacks of the embedding UI.
type Hooks struct {
	// OnUnauthorized runs after the user API rejected the session; the
	// token has already been cleared.
	OnUnauthorized func()
	// OnForbidden runs after a 403.
	OnForbidden func()
	// OnLayoutError receives errors of debounced layout persists.
	OnLayoutError func(error)
}

// Client is the assembled dashboard client.
type Client struct {
	Config *config.Config
	Log    *slog.Logger

	KV     localstore.KV
	Tokens *localstore.TokenStore
	Mirror *localstore.LayoutMirror

	Users   *userapi.Client
	Market  *marketdata.Service
	Bus     *pricebus.Bus
	Archive *archive.Parquet

	Dashboards *dashboard.Controller
	Watchlist  *watchlist.Manager
	Alerts     *alerts.Manager
}

// New builds a client from cfg. The price bus stays idle until Open.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, hooks Hooks) (*Client, error) {
	kv, err := localstore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	mirror, err := localstore.NewLayoutMirror(ctx, kv, log)
	if err != nil {
		kv.Close()
		return nil, err
	}
	tokens := localstore.NewTokenStore(kv)

	users := userapi.NewClient(cfg.UserAPI.BaseURL, tokens, userapi.Options{
		Timeout:        cfg.UserAPI.Timeout,
		ReadRetries:    cfg.UserAPI.ReadRetries,
		OnUnauthorized: hooks.OnUnauthorized,
		OnForbidden:    hooks.OnForbidden,
	}, log.With("component", "userapi"))

	var arch *archive.Parquet
	opts := marketdata.Options{
		TTLs: marketdata.TTLs{
			Price:      cfg.Cache.PriceTTL,
			Forecast:   cfg.Cache.ForecastTTL,
			Info:       cfg.Cache.InfoTTL,
			Historical: cfg.Cache.HistoricalTTL,
		},
		SyntheticFallback: cfg.Market.SyntheticFallback,
		BatchConcurrency:  cfg.Market.BatchConcurrency,
	}
	if cfg.Storage.ArchiveDir != "" {
		arch = archive.NewParquet(cfg.Storage.ArchiveDir)
		opts.Archive = arch
	}
	fetcher := marketdata.NewClient(cfg.Market.BaseURL, cfg.UserAPI.BaseURL, cfg.Market.Timeout,
		util.NewBurstRateLimiter(cfg.Market.RateLimitPerMin, cfg.Market.RateLimitBurst))
	market := marketdata.NewService(fetcher, opts, log.With("component", "marketdata"))

	bus := pricebus.New(pricebus.Options{
		URL:              cfg.PriceBus.URL,
		ReconnectBase:    cfg.PriceBus.ReconnectBase,
		ReconnectMax:     cfg.PriceBus.ReconnectMax,
		MaxRetries:       cfg.PriceBus.MaxRetries,
		CloseWhenIdle:    cfg.PriceBus.CloseWhenIdle,
		HandshakeTimeout: cfg.PriceBus.HandshakeTimeout,
		ReadTimeout:      cfg.PriceBus.ReadTimeout,
	}, log.With("component", "pricebus"))

	dashboards := dashboard.NewController(users, mirror, market, bus, layout.Options{
		Debounce: cfg.Layout.Debounce,
		Columns:  cfg.Layout.Columns,
		OnError:  hooks.OnLayoutError,
	}, log.With("component", "dashboard"))

	return &Client{
		Config:     cfg,
		Log:        log,
		KV:         kv,
		Tokens:     tokens,
		Mirror:     mirror,
		Users:      users,
		Market:     market,
		Bus:        bus,
		Archive:    arch,
		Dashboards: dashboards,
		Watchlist:  watchlist.New(users, log.With("component", "watchlist")),
		Alerts:     alerts.NewManager(users, log.With("component", "alerts")),
	}, nil
}

// Open starts the price bus. Cancelling ctx stops it.
func (c *Client) Open(ctx context.Context) error {
	return c.Bus.Open(ctx)
}

// NewAlertEvaluator returns an evaluator over c.Alerts fed by the bus.
func (c *Client) NewAlertEvaluator(onTrigger func(alerts.Trigger)) *alerts.Evaluator {
	return alerts.NewEvaluator(c.Alerts, c.Bus, alerts.EvaluatorOptions{
		DeleteTriggered: c.Config.Alerts.DeleteTriggered,
		OnTrigger:       onTrigger,
	}, c.Log.With("component", "alerts"))
}

// Close stops the price bus and closes local storage.
func (c *Client) Close() error {
	c.Bus.Close()
	if err := c.KV.Close(); err != nil {
		return fmt.Errorf("closing local store: %w", err)
	}
	return nil
}
