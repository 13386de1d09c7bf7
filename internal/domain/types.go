// Package domain defines the core types shared across cryptodash: dashboards,
// widgets and their grid layout, watchlists, price alerts and the market data
// shapes returned by the backends.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Dashboards and widgets
// ---------------------------------------------------------------------------

// DashboardType classifies a dashboard.
type DashboardType string

const (
	DashboardPrice      DashboardType = "price"
	DashboardPrediction DashboardType = "prediction"
)

// WidgetType identifies the widget renderer. Only price charts exist today.
type WidgetType string

const WidgetPriceChart WidgetType = "price_chart"

// ChartType selects the data a price chart widget shows.
type ChartType string

const (
	ChartReal       ChartType = "real"
	ChartPrediction ChartType = "prediction"
)

// GridRect is a widget's position on the dashboard grid in cell units.
type GridRect struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	W    int `json:"w"`
	H    int `json:"h"`
	MinW int `json:"minW,omitempty"`
	MinH int `json:"minH,omitempty"`
}

// IsZero reports whether the rect carries no layout at all.
func (r GridRect) IsZero() bool { return r.W == 0 && r.H == 0 }

// Bottom returns the first row below the rect.
func (r GridRect) Bottom() int { return r.Y + r.H }

// Overlaps reports whether r and o share at least one cell.
func (r GridRect) Overlaps(o GridRect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Validate checks the GridRect invariants.
func (r GridRect) Validate() error {
	switch {
	case r.X < 0 || r.Y < 0:
		return fmt.Errorf("grid position (%d,%d) is negative", r.X, r.Y)
	case r.W <= 0 || r.H <= 0:
		return fmt.Errorf("grid size %dx%d is not positive", r.W, r.H)
	case r.MinW > r.W || r.MinH > r.H:
		return fmt.Errorf("grid size %dx%d below minimum %dx%d", r.W, r.H, r.MinW, r.MinH)
	}
	return nil
}

// Widget is a single chart placed on a dashboard.
type Widget struct {
	ID        string     `json:"id"`
	Type      WidgetType `json:"type"`
	Coin      string     `json:"coin"`
	Period    Period     `json:"period"`
	ChartType ChartType  `json:"chartType"`
	Title     string     `json:"title"`
	Layout    GridRect   `json:"layout"`
	// From and To bound a PeriodCustom range (YYYY-MM-DD).
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// DefaultWidgetTitle is the title a widget falls back to when renamed to a
// blank string.
func DefaultWidgetTitle(coin string) string {
	if coin == "" {
		return "Price Chart"
	}
	return Capitalize(coin) + " Price Chart"
}

// DefaultDashboardName is used when a dashboard is renamed to a blank string.
const DefaultDashboardName = "Untitled dashboard"

// Dashboard is a named, ordered collection of widgets.
type Dashboard struct {
	ID      string        `json:"id"`
	UUID    string        `json:"uuid,omitempty"`
	Name    string        `json:"name"`
	Type    DashboardType `json:"type"`
	Widgets []Widget      `json:"widgets"`
	// Revision is the optimistic concurrency token. Zero means the server
	// does not track revisions.
	Revision int64 `json:"revision,omitempty"`
}

// Key returns the canonical identifier used for every remote and local
// operation on the dashboard: the uuid when present, otherwise the id.
func (d Dashboard) Key() string {
	if d.UUID != "" {
		return d.UUID
	}
	return d.ID
}

// Clone returns a deep copy of d.
func (d Dashboard) Clone() Dashboard {
	c := d
	c.Widgets = append([]Widget(nil), d.Widgets...)
	return c
}

// DashboardUpdate is the body of PUT /dashboard/{key}.
type DashboardUpdate struct {
	Widgets  []Widget `json:"widgets"`
	Name     *string  `json:"name,omitempty"`
	Revision int64    `json:"revision,omitempty"`
}

// ---------------------------------------------------------------------------
// Periods
// ---------------------------------------------------------------------------

// Period is a chart time window token.
type Period string

const (
	Period1D     Period = "1d"
	Period7D     Period = "7d"
	Period30D    Period = "30d"
	Period90D    Period = "90d"
	Period365D   Period = "365d"
	PeriodCustom Period = "custom"
)

// Periods lists the fixed periods in ascending order.
var Periods = []Period{Period1D, Period7D, Period30D, Period90D, Period365D}

// ParsePeriod normalises a period token. Bare day counts such as "7" become
// "7d".
func ParsePeriod(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == string(PeriodCustom) {
		return PeriodCustom, nil
	}
	days := strings.TrimSuffix(s, "d")
	n, err := strconv.Atoi(days)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid period %q", s)
	}
	return Period(strconv.Itoa(n) + "d"), nil
}

// Days returns the number of days the period spans, or 0 for custom ranges
// and malformed tokens.
func (p Period) Days() int {
	s := string(p)
	if !strings.HasSuffix(s, "d") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RangeDays returns the span of a custom from/to range in whole days,
// rounded up, with a minimum of one.
func RangeDays(from, to string) (int, error) {
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return 0, fmt.Errorf("parsing range start: %w", err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return 0, fmt.Errorf("parsing range end: %w", err)
	}
	if t.Before(f) {
		return 0, fmt.Errorf("range end %s before start %s", to, from)
	}
	days := int(t.Sub(f).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Point is one [timestamp_ms, price] sample.
type Point struct {
	Time  int64
	Price float64
}

// Series is an ordered time series of prices.
type Series []Point

// Last returns the most recent point of the series.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// CurrencyInfo is the metadata record of a coin.
type CurrencyInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// AlertCondition is the direction an alert watches.
type AlertCondition string

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
)

// AlertType selects whether an alert threshold is an absolute price or a
// percentage move.
type AlertType string

const (
	AlertPrice      AlertType = "price"
	AlertPercentage AlertType = "percentage"
)

// PriceAlert is a user-defined threshold on a coin.
type PriceAlert struct {
	ID         string         `json:"id,omitempty"`
	CoinID     string         `json:"coin_id"`
	Condition  AlertCondition `json:"condition"`
	Type       AlertType      `json:"type"`
	Price      *float64       `json:"price,omitempty"`
	Percentage *float64       `json:"percentage,omitempty"`
}

// ErrInvalidAlert is returned by PriceAlert.Validate.
var ErrInvalidAlert = errors.New("invalid price alert")

// Validate checks that exactly one of Price and Percentage is set, matching
// Type, and that the threshold is positive.
func (a PriceAlert) Validate() error {
	if strings.TrimSpace(a.CoinID) == "" {
		return fmt.Errorf("%w: coin is required", ErrInvalidAlert)
	}
	if a.Condition != AlertAbove && a.Condition != AlertBelow {
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidAlert, a.Condition)
	}
	switch a.Type {
	case AlertPrice:
		if a.Price == nil || a.Percentage != nil {
			return fmt.Errorf("%w: price alert needs price only", ErrInvalidAlert)
		}
		if *a.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrInvalidAlert)
		}
	case AlertPercentage:
		if a.Percentage == nil || a.Price != nil {
			return fmt.Errorf("%w: percentage alert needs percentage only", ErrInvalidAlert)
		}
		if *a.Percentage <= 0 {
			return fmt.Errorf("%w: percentage must be positive", ErrInvalidAlert)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, a.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// Profile is the signed-in user's account record.
type Profile struct {
	Email      string      `json:"email"`
	FirstName  string      `json:"first_name,omitempty"`
	LastName   string      `json:"last_name,omitempty"`
	Watchlist  []string    `json:"watchlist,omitempty"`
	Dashboards []Dashboard `json:"dashboards,omitempty"`
}

// User is an account as seen by an administrator.
type User struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// Capitalize upper-cases the first letter of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
