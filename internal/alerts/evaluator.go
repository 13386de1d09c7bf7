package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptodash/internal/domain"
	"cryptodash/internal/telemetry"
)

var hundred = decimal.NewFromInt(100)

// PriceFeed delivers live prices per coin.
type PriceFeed interface {
	SubscribeToPrice(coin string, fn func(price float64)) (unsubscribe func())
}

// Trigger reports a fired alert.
type Trigger struct {
	Alert domain.PriceAlert
	Price decimal.Decimal
	// Change is the percentage move from the baseline for percentage
	// alerts, zero otherwise.
	Change decimal.Decimal
	At     time.Time
}

// EvaluatorOptions tunes an Evaluator.
type EvaluatorOptions struct {
	// DeleteTriggered removes fired alerts from the server. Otherwise a
	// fired alert stays but does not fire again in this process.
	DeleteTriggered bool
	OnTrigger       func(Trigger)
	Now             func() time.Time
}

// Evaluator watches live prices for every coin that has an alert and fires
// alerts whose condition is met.
//
// Percentage alerts compare against a baseline, the first price seen for the
// coin after the evaluator started watching it.
type Evaluator struct {
	mu       sync.Mutex
	baseline map[string]decimal.Decimal
	fired    map[string]bool
	unsub    map[string]func()

	wg     sync.WaitGroup
	alerts *Manager
	feed   PriceFeed
	opts   EvaluatorOptions
	log    *slog.Logger
}

// NewEvaluator creates an evaluator over the alerts of m.
func NewEvaluator(m *Manager, feed PriceFeed, opts EvaluatorOptions, log *slog.Logger) *Evaluator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		baseline: make(map[string]decimal.Decimal),
		fired:    make(map[string]bool),
		unsub:    make(map[string]func()),
		alerts:   m,
		feed:     feed,
		opts:     opts,
		log:      log,
	}
}

// Refresh reloads the alerts and subscribes to exactly the coins they
// reference.
func (e *Evaluator) Refresh(ctx context.Context) error {
	if err := e.alerts.Load(ctx); err != nil {
		return err
	}
	e.sync()
	return nil
}

// Run refreshes every interval until ctx is done, then unsubscribes and
// waits for in-flight deletes.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) error {
	defer e.Stop()
	if err := e.Refresh(ctx); err != nil {
		e.log.Error("initial alert refresh failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				e.log.Error("alert refresh failed", "error", err)
			}
		}
	}
}

// Stop drops every price subscription and waits for pending deletes.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	unsubs := e.unsub
	e.unsub = make(map[string]func())
	e.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	e.wg.Wait()
}

// Watching returns the number of coins subscribed.
func (e *Evaluator) Watching() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.unsub)
}

func (e *Evaluator) sync() {
	want := make(map[string]bool)
	for _, a := range e.alerts.List() {
		want[a.CoinID] = true
	}

	e.mu.Lock()
	var drop []func()
	for coin, fn := range e.unsub {
		if !want[coin] {
			drop = append(drop, fn)
			delete(e.unsub, coin)
			delete(e.baseline, coin)
		}
	}
	var add []string
	for coin := range want {
		if _, ok := e.unsub[coin]; !ok {
			add = append(add, coin)
		}
	}
	e.mu.Unlock()

	for _, fn := range drop {
		fn()
	}
	for _, coin := range add {
		fn := e.feed.SubscribeToPrice(coin, func(p float64) { e.Observe(coin, p) })
		e.mu.Lock()
		if _, dup := e.unsub[coin]; dup {
			e.mu.Unlock()
			fn()
			continue
		}
		e.unsub[coin] = fn
		e.mu.Unlock()
	}
	e.log.Debug("alert subscriptions synced", "coins", len(want))
}

// Observe evaluates the alerts on coin against price.
func (e *Evaluator) Observe(coin string, price float64) {
	cur := decimal.NewFromFloat(price)
	now := e.opts.Now()

	e.mu.Lock()
	base, ok := e.baseline[coin]
	if !ok {
		e.baseline[coin] = cur
		base = cur
	}
	var fired []Trigger
	for _, a := range e.alerts.ForCoin(coin) {
		if e.fired[a.ID] {
			continue
		}
		hit, change := Check(a, cur, base)
		if !hit {
			continue
		}
		e.fired[a.ID] = true
		fired = append(fired, Trigger{Alert: a, Price: cur, Change: change, At: now})
	}
	e.mu.Unlock()

	for _, t := range fired {
		telemetry.AlertsTriggered.Inc()
		e.log.Info("alert triggered", "id", t.Alert.ID, "coin", coin,
			"condition", t.Alert.Condition, "type", t.Alert.Type, "price", t.Price.String())
		if e.opts.OnTrigger != nil {
			e.opts.OnTrigger(t)
		}
		if e.opts.DeleteTriggered && t.Alert.ID != "" {
			e.wg.Add(1)
			go e.delete(t.Alert.ID)
		}
	}
}

func (e *Evaluator) delete(id string) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.alerts.Delete(ctx, id); err != nil {
		e.log.Error("deleting triggered alert failed", "id", id, "error", err)
	}
}

// Check reports whether a fires at price cur. base is the reference price of
// percentage alerts; the returned change is the percentage move from it.
//
// Price alerts fire when cur >= price (above) or cur <= price (below).
// Percentage alerts fire when the move is at least +percentage (above) or at
// most -percentage (below).
func Check(a domain.PriceAlert, cur, base decimal.Decimal) (bool, decimal.Decimal) {
	switch a.Type {
	case domain.AlertPrice:
		if a.Price == nil {
			return false, decimal.Zero
		}
		target := decimal.NewFromFloat(*a.Price)
		switch a.Condition {
		case domain.AlertAbove:
			return cur.GreaterThanOrEqual(target), decimal.Zero
		case domain.AlertBelow:
			return cur.LessThanOrEqual(target), decimal.Zero
		}
	case domain.AlertPercentage:
		if a.Percentage == nil || !base.IsPositive() {
			return false, decimal.Zero
		}
		change := cur.Sub(base).Div(base).Mul(hundred)
		threshold := decimal.NewFromFloat(*a.Percentage)
		switch a.Condition {
		case domain.AlertAbove:
			return change.GreaterThanOrEqual(threshold), change
		case domain.AlertBelow:
			return change.LessThanOrEqual(threshold.Neg()), change
		}
	}
	return false, decimal.Zero
}
