package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"cryptodash/internal/dashboard"
	"cryptodash/internal/domain"
	"cryptodash/internal/layout"
	"cryptodash/internal/marketdata"
	"cryptodash/internal/userapi"
	"cryptodash/pkg/cryptodash"
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

func password(fs *flag.FlagSet) *string {
	return fs.String("password", os.Getenv("CRYPTODASH_PASSWORD"), "account password")
}

func cmdRegister(ctx context.Context, app *cryptodash.Client, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	pw := password(fs)
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 || *pw == "" {
		return errUsage
	}
	err = app.Users.Register(ctx, userapi.Registration{
		Email: pos[0], Password: *pw, FirstName: *first, LastName: *last,
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered and signed in as %s\n", pos[0])
	return nil
}

func cmdLogin(ctx context.Context, app *cryptodash.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	pw := password(fs)
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 || *pw == "" {
		return errUsage
	}
	if err := app.Users.Login(ctx, pos[0], *pw); err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", pos[0])
	return nil
}

func cmdLogout(ctx context.Context, app *cryptodash.Client, _ []string) error {
	if err := app.Users.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func cmdWhoami(ctx context.Context, app *cryptodash.Client, _ []string) error {
	if !app.Users.SignedIn(ctx) {
		fmt.Println("not signed in")
		return nil
	}
	p, err := app.Users.Profile(ctx)
	if err != nil {
		return err
	}
	admin, err := app.Users.IsAdmin(ctx)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		name = "-"
	}
	tw := newTable()
	fmt.Fprintf(tw, "email\t%s\n", p.Email)
	fmt.Fprintf(tw, "name\t%s\n", name)
	fmt.Fprintf(tw, "admin\t%t\n", admin)
	fmt.Fprintf(tw, "watchlist\t%d coins\n", len(p.Watchlist))
	fmt.Fprintf(tw, "dashboards\t%d\n", len(p.Dashboards))
	return tw.Flush()
}

func cmdCheck(ctx context.Context, app *cryptodash.Client, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	exists, err := app.Users.CheckUser(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: exists=%t\n", args[0], exists)
	return nil
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

func cmdWatchlist(ctx context.Context, app *cryptodash.Client, args []string) error {
	wl := app.Watchlist
	if err := wl.Load(ctx); err != nil {
		return err
	}
	if len(args) == 0 {
		coins := wl.Coins()
		if len(coins) == 0 {
			fmt.Println("(empty)")
			return nil
		}
		for _, it := range app.Market.Prices(ctx, coins) {
			printPrice(it)
		}
		return nil
	}
	if len(args) != 2 {
		return errUsage
	}
	switch args[0] {
	case "add":
		return wl.Add(ctx, args[1])
	case "remove", "rm":
		return wl.Remove(ctx, args[1])
	}
	return errUsage
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func cmdAlerts(ctx context.Context, app *cryptodash.Client, args []string) error {
	m := app.Alerts
	if err := m.Load(ctx); err != nil {
		return err
	}
	if len(args) == 0 {
		tw := newTable()
		fmt.Fprintln(tw, "ID\tCOIN\tCONDITION\tTHRESHOLD")
		for _, a := range m.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.CoinID, a.Condition, threshold(a))
		}
		return tw.Flush()
	}

	switch args[0] {
	case "add":
		// alerts add <coin> above|below <value>[%]
		if len(args) != 4 {
			return errUsage
		}
		a := domain.PriceAlert{CoinID: strings.ToLower(args[1]), Condition: domain.AlertCondition(args[2])}
		raw := args[3]
		pct := strings.HasSuffix(raw, "%")
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return fmt.Errorf("parsing threshold %q: %w", raw, err)
		}
		if pct {
			a.Type, a.Percentage = domain.AlertPercentage, &v
		} else {
			a.Type, a.Price = domain.AlertPrice, &v
		}
		created, err := m.Create(ctx, a)
		if err != nil {
			return err
		}
		fmt.Printf("created alert %s\n", created.ID)
		return nil
	case "delete", "rm":
		if len(args) != 2 {
			return errUsage
		}
		return m.Delete(ctx, args[1])
	}
	return errUsage
}

func threshold(a domain.PriceAlert) string {
	switch {
	case a.Price != nil:
		return dashboard.FormatPrice(*a.Price)
	case a.Percentage != nil:
		return fmt.Sprintf("%.2f%%", *a.Percentage)
	}
	return "-"
}

// ---------------------------------------------------------------------------
// Dashboards
// ---------------------------------------------------------------------------

func cmdDashboards(ctx context.Context, app *cryptodash.Client, args []string) error {
	ctrl := app.Dashboards
	ds, err := ctrl.Load(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		tw := newTable()
		fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tWIDGETS")
		for _, d := range ds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.Key(), d.Name, d.Type, len(d.Widgets))
		}
		return tw.Flush()
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("dashboards create", flag.ContinueOnError)
		typ := fs.String("type", string(domain.DashboardPrice), "dashboard type (price or prediction)")
		pos, err := parse(fs, args[1:])
		if err != nil {
			return err
		}
		d, err := ctrl.Create(ctx, strings.Join(pos, " "), domain.DashboardType(*typ))
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", d.Name, d.Key())
		return nil
	case "delete", "rm":
		if len(args) != 2 {
			return errUsage
		}
		return ctrl.Delete(ctx, args[1])
	case "add":
		// dashboards add <key> <coin> [-period 7d] [-chart real]
		fs := flag.NewFlagSet("dashboards add", flag.ContinueOnError)
		period := fs.String("period", string(domain.Period7D), "chart period")
		chart := fs.String("chart", string(domain.ChartReal), "chart type (real or prediction)")
		pos, err := parse(fs, args[1:])
		if err != nil {
			return err
		}
		if len(pos) != 2 {
			return errUsage
		}
		p, err := domain.ParsePeriod(*period)
		if err != nil {
			return err
		}
		page, err := ctrl.Open(ctx, pos[0], dashboard.PageOptions{})
		if err != nil {
			return err
		}
		w, err := page.AddWidget(ctx, layout.WidgetSpec{
			Coin: strings.ToLower(pos[1]), Period: p, ChartType: domain.ChartType(*chart),
		})
		if cerr := page.Close(ctx); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Printf("added %s at %d,%d\n", w.ID, w.Layout.X, w.Layout.Y)
		return nil
	case "show":
		if len(args) != 2 {
			return errUsage
		}
		return showDashboard(ctx, app, args[1])
	}
	return errUsage
}

func showDashboard(ctx context.Context, app *cryptodash.Client, key string) error {
	page, err := app.Dashboards.Open(ctx, key, dashboard.PageOptions{})
	if err != nil {
		return err
	}
	defer page.Close(ctx)

	d := page.Dashboard()
	fmt.Printf("%s (%s)\n\n", d.Name, d.Key())
	charts := page.AllChartData(ctx)
	tw := newTable()
	fmt.Fprintln(tw, "WIDGET\tCOIN\tPERIOD\tCHART\tPOS\tLAST\tSOURCE\tTREND")
	for _, w := range page.Widgets() {
		res := charts[w.ID]
		last, trend := "-", ""
		if res.OK() {
			if pt, ok := res.Value.Last(); ok {
				last = dashboard.FormatPrice(pt.Price)
			}
			prices := make([]float64, len(res.Value))
			for i, pt := range res.Value {
				prices[i] = pt.Price
			}
			trend = dashboard.Sparkline(prices, 24)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d,%d %dx%d\t%s\t%s\t%s\n",
			w.Title, w.Coin, w.Period, w.ChartType,
			w.Layout.X, w.Layout.Y, w.Layout.W, w.Layout.H,
			last, res.Source, trend)
	}
	return tw.Flush()
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func printPrice(it marketdata.Item[float64]) {
	if !it.OK() {
		fmt.Printf("%-14s %14s  %s\n", it.ID, "-", it.Source)
		return
	}
	fmt.Printf("%-14s %14s  %s\n", it.ID, dashboard.FormatPrice(it.Value), it.Source)
}

func cmdPrice(ctx context.Context, app *cryptodash.Client, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	coins := make([]string, len(args))
	for i, a := range args {
		coins[i] = strings.ToLower(a)
	}
	for _, it := range app.Market.Prices(ctx, coins) {
		printPrice(it)
	}
	return nil
}

func cmdHistory(ctx context.Context, app *cryptodash.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	period := fs.String("period", string(domain.Period30D), "period to fetch before exporting")
	export := fs.Bool("export", false, "print every archived sample as CSV")
	pos, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errUsage
	}
	coin := strings.ToLower(pos[0])
	p, err := domain.ParsePeriod(*period)
	if err != nil {
		return err
	}

	res := app.Market.Historical(ctx, coin, p)
	if !*export {
		if !res.OK() {
			return fmt.Errorf("no history for %s: %w", coin, res.Err)
		}
		fmt.Printf("%s %s: %d points (%s)\n", coin, p, len(res.Value), res.Source)
		for _, pt := range res.Value {
			fmt.Printf("%s  %s\n", time.UnixMilli(pt.Time).UTC().Format(time.DateTime), dashboard.FormatPrice(pt.Price))
		}
		return nil
	}

	if app.Archive == nil {
		return fmt.Errorf("storage.archive_dir is not configured")
	}
	series, err := app.Archive.Merged(coin)
	if err != nil {
		return err
	}
	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"timestamp", "price"})
	for _, pt := range series {
		w.Write([]string{strconv.FormatInt(pt.Time, 10), strconv.FormatFloat(pt.Price, 'f', -1, 64)})
	}
	w.Flush()
	return w.Error()
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

func cmdAdmin(ctx context.Context, app *cryptodash.Client, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	u := app.Users
	switch args[0] {
	case "users":
		us, err := u.Users(ctx)
		if err != nil {
			return err
		}
		tw := newTable()
		fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tACTIVE")
		for _, x := range us {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", x.Email, strings.TrimSpace(x.FirstName+" "+x.LastName), x.Role, x.IsActive)
		}
		return tw.Flush()
	case "coins":
		cs, err := u.Cryptocurrencies(ctx, false)
		if err != nil {
			return err
		}
		tw := newTable()
		fmt.Fprintln(tw, "ID\tSYMBOL\tNAME\tACTIVE")
		for _, c := range cs {
			active := "-"
			if c.IsActive != nil {
				active = strconv.FormatBool(*c.IsActive)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, strings.ToUpper(c.Symbol), c.Name, active)
		}
		return tw.Flush()
	case "role":
		if len(args) != 3 {
			return errUsage
		}
		return u.SetUserRole(ctx, args[1], args[2])
	case "activate", "deactivate":
		if len(args) != 2 {
			return errUsage
		}
		return u.SetUserActive(ctx, args[1], args[0] == "activate")
	case "rmcoin":
		if len(args) != 2 {
			return errUsage
		}
		return u.DeleteCryptocurrency(ctx, args[1])
	}
	return errUsage
}
