package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"cryptodash/internal/config"
	"cryptodash/internal/pricebus"
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
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs go to a file.
	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = fmt.Sprintf("/tmp/dash-client-%s.log", time.Now().Format("2006-01-02"))
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, cfg.Logging.Level, "text")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan tea.Msg, 256)
	app, err := cryptodash.New(ctx, cfg, logger, cryptodash.Hooks{
		OnUnauthorized: func() { post(events, sessionEndedMsg{}) },
		OnForbidden:    func() { post(events, statusMsg("insufficient privileges")) },
		OnLayoutError:  func(err error) { post(events, statusMsg("saving layout failed: "+err.Error())) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting client: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if !app.Users.SignedIn(ctx) {
		fmt.Fprintln(os.Stderr, "not signed in; run `dash-cli login <email>` first")
		os.Exit(1)
	}

	app.Bus.OnStateChange(func(s pricebus.State) { post(events, busStateMsg(s)) })
	if err := app.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "opening price bus: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "loading dashboards...")
	dashboards, err := app.Dashboards.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, " %v\n", err)
		os.Exit(1)
	}
	if len(dashboards) == 0 {
		d, err := app.Dashboards.Create(ctx, "My dashboard", "")
		if err != nil {
			fmt.Fprintf(os.Stderr, " creating first dashboard: %v\n", err)
			os.Exit(1)
		}
		dashboards = append(dashboards, d)
	}
	fmt.Fprintf(os.Stderr, " %d\n", len(dashboards))

	p := tea.NewProgram(
		initialModel(ctx, app, dashboards, events, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// post delivers msg to the UI without blocking the caller, which may be the
// price bus reader. Messages are dropped when the UI falls behind.
func post(events chan<- tea.Msg, msg tea.Msg) {
	select {
	case events <- msg:
	default:
	}
}
