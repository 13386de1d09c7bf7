// Package marketdata is the single read path for prices, forecasts,
// historical series and coin metadata. Service layers a per-resource TTL
// cache over the market API, collapses concurrent fetches of the same key,
// and degrades to stale, archived or synthetic data when a fetch fails,
// tagging every result with its source.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cryptodash/internal/cache"
	"cryptodash/internal/domain"
	"cryptodash/internal/telemetry"
)

// Fetcher performs the network reads behind the facade. *Client implements
// it.
type Fetcher interface {
	FetchPrice(ctx context.Context, coin string) (float64, error)
	FetchForecast(ctx context.Context, coin string, period domain.Period) (domain.Series, error)
	FetchHistorical(ctx context.Context, coin string, period domain.Period) (domain.Series, error)
	FetchHistoricalRange(ctx context.Context, coin, from, to string) (domain.Series, error)
	FetchCurrencyInfo(ctx context.Context, coin string) (domain.CurrencyInfo, error)
}

// Archive persists historical series across restarts. It backs the facade
// when the API is down and the in-memory cache is cold.
type Archive interface {
	SaveSeries(coin, period string, series domain.Series, fetchedAt time.Time) error
	LoadSeries(coin, period string) (domain.Series, time.Time, error)
}

// TTLs holds the freshness window of each resource class.
type TTLs struct {
	Price      time.Duration
	Forecast   time.Duration
	Info       time.Duration
	Historical time.Duration
}

// DefaultTTLs returns the standard freshness windows.
func DefaultTTLs() TTLs {
	return TTLs{
		Price:      cache.DefaultPriceTTL,
		Forecast:   cache.DefaultForecastTTL,
		Info:       cache.DefaultInfoTTL,
		Historical: cache.DefaultHistoricalTTL,
	}
}

// Options configures a Service.
type Options struct {
	TTLs              TTLs
	SyntheticFallback bool
	// BatchConcurrency bounds parallel fetches in batched reads. Zero means
	// unbounded.
	BatchConcurrency int
	Archive          Archive
	// Rand and Now override the synthetic data source and clock in tests.
	Rand func() float64
	Now  func() time.Time
}

// Service is the data access facade.
type Service struct {
	fetcher Fetcher
	opts    Options
	log     *slog.Logger

	prices    *cache.Store[float64]
	forecasts *cache.Store[domain.Series]
	infos     *cache.Store[domain.CurrencyInfo]
	history   *cache.Store[domain.Series]

	flights singleflight.Group
	synth   *synthesizer
}

// NewService creates a facade over fetcher. Zero TTLs take their defaults.
func NewService(fetcher Fetcher, opts Options, log *slog.Logger) *Service {
	def := DefaultTTLs()
	if opts.TTLs.Price <= 0 {
		opts.TTLs.Price = def.Price
	}
	if opts.TTLs.Forecast <= 0 {
		opts.TTLs.Forecast = def.Forecast
	}
	if opts.TTLs.Info <= 0 {
		opts.TTLs.Info = def.Info
	}
	if opts.TTLs.Historical <= 0 {
		opts.TTLs.Historical = def.Historical
	}

	s := &Service{
		fetcher:   fetcher,
		opts:      opts,
		log:       log,
		prices:    cache.New[float64](opts.TTLs.Price),
		forecasts: cache.New[domain.Series](opts.TTLs.Forecast),
		infos:     cache.New[domain.CurrencyInfo](opts.TTLs.Info),
		history:   cache.New[domain.Series](opts.TTLs.Historical),
		synth:     newSynthesizer(opts.Rand, opts.Now),
	}
	if opts.Now != nil {
		s.prices.SetClock(opts.Now)
		s.forecasts.SetClock(opts.Now)
		s.infos.SetClock(opts.Now)
		s.history.SetClock(opts.Now)
	}
	return s
}

// Clear drops every cached entry.
func (s *Service) Clear() {
	s.prices.Clear()
	s.forecasts.Clear()
	s.infos.Clear()
	s.history.Clear()
}

// ---------------------------------------------------------------------------
// Single reads
// ---------------------------------------------------------------------------

// Price returns the current price of coin.
func (s *Service) Price(ctx context.Context, coin string) Result[float64] {
	return read(ctx, s, readSpec[float64]{
		resource: cache.Price,
		store:    s.prices,
		key:      coin,
		fetch:    func(ctx context.Context) (float64, error) { return s.fetcher.FetchPrice(ctx, coin) },
		synth:    s.synth.price,
	})
}

// Forecast returns the predicted series of coin over period.
func (s *Service) Forecast(ctx context.Context, coin string, period domain.Period) Result[domain.Series] {
	return read(ctx, s, readSpec[domain.Series]{
		resource: cache.Forecast,
		store:    s.forecasts,
		key:      cache.Key(coin, string(period)),
		fetch: func(ctx context.Context) (domain.Series, error) {
			return s.fetcher.FetchForecast(ctx, coin, period)
		},
		synth: func() domain.Series { return s.synth.forecast(period.Days()) },
	})
}

// CurrencyInfo returns the metadata of coin.
func (s *Service) CurrencyInfo(ctx context.Context, coin string) Result[domain.CurrencyInfo] {
	return read(ctx, s, readSpec[domain.CurrencyInfo]{
		resource: cache.Info,
		store:    s.infos,
		key:      coin,
		fetch: func(ctx context.Context) (domain.CurrencyInfo, error) {
			return s.fetcher.FetchCurrencyInfo(ctx, coin)
		},
		synth: func() domain.CurrencyInfo { return s.synth.info(coin) },
	})
}

// Historical returns the price history of coin over period.
func (s *Service) Historical(ctx context.Context, coin string, period domain.Period) Result[domain.Series] {
	return s.historical(ctx, coin, string(period), period.Days(),
		func(ctx context.Context) (domain.Series, error) {
			return s.fetcher.FetchHistorical(ctx, coin, period)
		})
}

// HistoricalRange returns the price history of coin between two YYYY-MM-DD
// dates.
func (s *Service) HistoricalRange(ctx context.Context, coin, from, to string) Result[domain.Series] {
	days, err := domain.RangeDays(from, to)
	if err != nil {
		return Result[domain.Series]{Source: SourceUnavailable, Err: err}
	}
	return s.historical(ctx, coin, from+"_"+to, days,
		func(ctx context.Context) (domain.Series, error) {
			return s.fetcher.FetchHistoricalRange(ctx, coin, from, to)
		})
}

// ChartSeries returns the series a widget displays: history for real
// charts, the forecast for prediction charts.
func (s *Service) ChartSeries(ctx context.Context, w domain.Widget) Result[domain.Series] {
	if w.ChartType == domain.ChartPrediction {
		return s.Forecast(ctx, w.Coin, w.Period)
	}
	if w.Period == domain.PeriodCustom {
		return s.HistoricalRange(ctx, w.Coin, w.From, w.To)
	}
	return s.Historical(ctx, w.Coin, w.Period)
}

func (s *Service) historical(ctx context.Context, coin, period string, days int,
	fetch func(context.Context) (domain.Series, error)) Result[domain.Series] {
	spec := readSpec[domain.Series]{
		resource: cache.Historical,
		store:    s.history,
		key:      cache.Key(coin, period),
		fetch:    fetch,
		synth:    func() domain.Series { return s.synth.historical(days) },
	}
	if a := s.opts.Archive; a != nil {
		spec.stored = func(series domain.Series, at time.Time) {
			if err := a.SaveSeries(coin, period, series, at); err != nil {
				s.log.Warn("archiving historical series failed", "coin", coin, "period", period, "error", err)
			}
		}
		spec.cold = func() (domain.Series, time.Time, bool) {
			series, at, err := a.LoadSeries(coin, period)
			if err != nil || len(series) == 0 {
				return nil, time.Time{}, false
			}
			return series, at, true
		}
	}
	return read(ctx, s, spec)
}

// ---------------------------------------------------------------------------
// Batched reads
// ---------------------------------------------------------------------------

// Prices returns the price of each coin, in request order.
func (s *Service) Prices(ctx context.Context, coins []string) []Item[float64] {
	return batch(ctx, s, coins, s.prices, cache.Price,
		func(id string) string { return id }, s.Price)
}

// Forecasts returns the forecast of each coin over period, in request order.
func (s *Service) Forecasts(ctx context.Context, coins []string, period domain.Period) []Item[domain.Series] {
	return batch(ctx, s, coins, s.forecasts, cache.Forecast,
		func(id string) string { return cache.Key(id, string(period)) },
		func(ctx context.Context, id string) Result[domain.Series] { return s.Forecast(ctx, id, period) })
}

// CurrenciesInfo returns the metadata of each coin, in request order.
func (s *Service) CurrenciesInfo(ctx context.Context, coins []string) []Item[domain.CurrencyInfo] {
	return batch(ctx, s, coins, s.infos, cache.Info,
		func(id string) string { return id }, s.CurrencyInfo)
}

// batch answers fresh ids from the cache directly and fetches the rest in
// parallel. Items keep the order of ids.
func batch[V any](ctx context.Context, s *Service, ids []string, store *cache.Store[V], res cache.Resource,
	keyOf func(string) string, one func(context.Context, string) Result[V]) []Item[V] {
	items := make([]Item[V], len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if s.opts.BatchConcurrency > 0 {
		g.SetLimit(s.opts.BatchConcurrency)
	}
	for i, id := range ids {
		if e, ok := store.Fresh(keyOf(id)); ok {
			telemetry.CacheLookups.WithLabelValues(string(res), "hit").Inc()
			items[i] = Item[V]{ID: id, Result: observe(res, Result[V]{Value: e.Value, Source: SourceCached, FetchedAt: e.FetchedAt})}
			continue
		}
		g.Go(func() error {
			items[i] = Item[V]{ID: id, Result: one(gctx, id)}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

type readSpec[V any] struct {
	resource cache.Resource
	store    *cache.Store[V]
	key      string
	fetch    func(context.Context) (V, error)
	synth    func() V
	// stored is called after a live value is cached.
	stored func(V, time.Time)
	// cold loads a persisted fallback when nothing is cached.
	cold func() (V, time.Time, bool)
}

func read[V any](ctx context.Context, s *Service, spec readSpec[V]) Result[V] {
	res := string(spec.resource)
	if e, ok := spec.store.Fresh(spec.key); ok {
		telemetry.CacheLookups.WithLabelValues(res, "hit").Inc()
		return observe(spec.resource, Result[V]{Value: e.Value, Source: SourceCached, FetchedAt: e.FetchedAt})
	}
	telemetry.CacheLookups.WithLabelValues(res, "miss").Inc()

	// The shared fetch outlives any single caller; the HTTP client timeout
	// bounds it.
	started := spec.store.Now()
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(res+":"+spec.key, func() (any, error) {
		value, err := spec.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		e, _ := spec.store.PutAt(spec.key, value, started)
		if spec.stored != nil {
			spec.stored(e.Value, e.FetchedAt)
		}
		return e, nil
	})

	var err error
	select {
	case r := <-ch:
		if r.Err == nil {
			e := r.Val.(cache.Entry[V])
			return observe(spec.resource, Result[V]{Value: e.Value, Source: SourceLive, FetchedAt: e.FetchedAt})
		}
		err = r.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.log.Warn("market data fetch failed", "resource", res, "key", spec.key, "error", err)

	if e, ok := spec.store.Get(spec.key); ok {
		return observe(spec.resource, Result[V]{Value: e.Value, Source: SourceStale, FetchedAt: e.FetchedAt, Err: err})
	}
	if spec.cold != nil {
		if value, at, ok := spec.cold(); ok {
			e, _ := spec.store.PutAt(spec.key, value, at)
			return observe(spec.resource, Result[V]{Value: e.Value, Source: SourceStale, FetchedAt: e.FetchedAt, Err: err})
		}
	}
	if s.opts.SyntheticFallback {
		return observe(spec.resource, Result[V]{Value: spec.synth(), Source: SourceSynthetic, FetchedAt: spec.store.Now(), Err: err})
	}
	return observe(spec.resource, Result[V]{Source: SourceUnavailable, Err: err})
}

func observe[V any](res cache.Resource, r Result[V]) Result[V] {
	telemetry.Results.WithLabelValues(string(res), r.Source.String()).Inc()
	return r
}
