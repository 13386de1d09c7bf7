// Command dash-alerts watches the signed-in user's price alerts against the
// live price stream and prints a line whenever one fires. Prometheus metrics
// are served on metrics.addr when set.
//
// Usage:
//
//	go build -o bin/dash-alerts ./cmd/dash-alerts/
//	bin/dash-alerts
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cryptodash/internal/alerts"
	"cryptodash/internal/config"
	"cryptodash/internal/dashboard"
	"cryptodash/internal/domain"
	"cryptodash/internal/telemetry"
	"cryptodash/internal/util"
	"cryptodash/pkg/cryptodash"
)

func main() {
	cfgPath := "config/cryptodash.yaml"
	if p := os.Getenv("CRYPTODASH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := cryptodash.New(ctx, cfg, logger, cryptodash.Hooks{
		OnUnauthorized: func() {
			logger.Error("session rejected; sign in again with dash-cli login")
			cancel()
		},
	})
	if err != nil {
		log.Fatalf("failed to start client: %v", err)
	}
	defer app.Close()

	if !app.Users.SignedIn(ctx) {
		log.Fatal("not signed in; run `dash-cli login <email>` first")
	}
	if err := app.Open(ctx); err != nil {
		log.Fatalf("failed to open price bus: %v", err)
	}

	ev := app.NewAlertEvaluator(func(t alerts.Trigger) {
		fmt.Printf("%s  %s\n", t.At.Format("15:04:05"), describe(t))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return telemetry.Serve(gctx, cfg.Metrics.Addr, logger) })
	g.Go(func() error { return ev.Run(gctx, cfg.Alerts.RefreshInterval) })

	fmt.Println("watching price alerts")
	if err := g.Wait(); err != nil {
		log.Fatalf("alert watcher error: %v", err)
	}
}

func describe(t alerts.Trigger) string {
	a := t.Alert
	price, _ := t.Price.Float64()
	switch {
	case a.Type == domain.AlertPercentage && a.Percentage != nil:
		change, _ := t.Change.Float64()
		return fmt.Sprintf("%s moved %s (%s), alert %s %.2f%%",
			domain.Capitalize(a.CoinID), dashboard.FormatChange(change), dashboard.FormatPrice(price),
			a.Condition, *a.Percentage)
	case a.Price != nil:
		return fmt.Sprintf("%s is %s at %s, alert %s %s",
			domain.Capitalize(a.CoinID), a.Condition, dashboard.FormatPrice(price),
			a.Condition, dashboard.FormatPrice(*a.Price))
	}
	return fmt.Sprintf("%s alert %s fired at %s", domain.Capitalize(a.CoinID), a.ID, dashboard.FormatPrice(price))
}
