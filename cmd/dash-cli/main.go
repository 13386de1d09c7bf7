// Command dash-cli manages a cryptodash account from the terminal: sign in,
// edit the watchlist, alerts and dashboards, print prices and export the
// local history archive.
//
// Usage:
//
//	go build -o bin/dash-cli ./cmd/dash-cli/
//	bin/dash-cli <command> [options]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cryptodash/internal/config"
	"cryptodash/internal/userapi"
	"cryptodash/internal/util"
	"cryptodash/pkg/cryptodash"
)

const version = "0.1.0"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *cryptodash.Client, args []string) error
}

var commands = []command{
	{"register", "register <email> [-first NAME] [-last NAME]  Create an account", cmdRegister},
	{"login", "login <email>           Sign in (password from -password or CRYPTODASH_PASSWORD)", cmdLogin},
	{"logout", "logout                  Forget the stored session", cmdLogout},
	{"whoami", "whoami                  Show the signed-in profile", cmdWhoami},
	{"check", "check <email>           Report whether an account exists", cmdCheck},
	{"watchlist", "watchlist [add|remove <coin>]  List or edit the watchlist", cmdWatchlist},
	{"alerts", "alerts [add|delete ...]  List or edit price alerts", cmdAlerts},
	{"dashboards", "dashboards [create|delete|show ...]  List or edit dashboards", cmdDashboards},
	{"price", "price <coin>...          Print current prices", cmdPrice},
	{"history", "history <coin> [-period 30d] [-export]  Fetch history; -export prints the archive as CSV", cmdHistory},
	{"admin", "admin users|coins|role|activate|deactivate|rmcoin ...  Administration", cmdAdmin},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: dash-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "version" {
		fmt.Printf("dash-cli %s\n", version)
		return
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
		flag.Usage()
		os.Exit(1)
	}

	cfgPath := "config/cryptodash.yaml"
	if p := os.Getenv("CRYPTODASH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cryptodash.New(ctx, cfg, logger, cryptodash.Hooks{
		OnUnauthorized: func() { fmt.Fprintln(os.Stderr, "session expired; run `dash-cli login <email>`") },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting client: %v\n", err)
		os.Exit(1)
	}

	err = cmd.run(ctx, app, os.Args[2:])
	if cerr := app.Close(); cerr != nil {
		logger.Warn("closing client", "error", cerr)
	}
	if err != nil {
		var apiErr *userapi.APIError
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", name, apiErr.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}
		os.Exit(1)
	}
}

// errUsage reports a malformed command line.
var errUsage = errors.New("bad arguments; run dash-cli without arguments for help")

// parse parses args with fs and returns the positional arguments. Flags may
// follow positionals.
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
