package userapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"cryptodash/internal/domain"
)

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

// WatchlistAction is the action of PUT /watchlist.
type WatchlistAction string

const (
	WatchlistAdd    WatchlistAction = "add"
	WatchlistRemove WatchlistAction = "remove"
)

// Watchlist returns the user's tracked coin ids.
func (c *Client) Watchlist(ctx context.Context) ([]string, error) {
	var coins []string
	err := c.do(ctx, http.MethodGet, "/watchlist", nil, &coins)
	return coins, err
}

// UpdateWatchlist adds or removes a coin.
func (c *Client) UpdateWatchlist(ctx context.Context, coin string, action WatchlistAction) error {
	body := map[string]string{"coin_id": coin, "action": string(action)}
	return c.do(ctx, http.MethodPut, "/watchlist", body, nil)
}

// ---------------------------------------------------------------------------
// Dashboards
// ---------------------------------------------------------------------------

// Dashboards lists the user's dashboards.
func (c *Client) Dashboards(ctx context.Context) ([]domain.Dashboard, error) {
	var ds []domain.Dashboard
	err := c.do(ctx, http.MethodGet, "/dashboard", nil, &ds)
	return ds, err
}

// CreateDashboard stores a new dashboard and returns the server's copy,
// whose id may differ from the one sent.
func (c *Client) CreateDashboard(ctx context.Context, d domain.Dashboard) (domain.Dashboard, error) {
	var created domain.Dashboard
	err := c.do(ctx, http.MethodPost, "/dashboard", d, &created)
	return created, err
}

// UpdateDashboard replaces the widgets (and optionally the name) of the
// dashboard identified by key.
func (c *Client) UpdateDashboard(ctx context.Context, key string, upd domain.DashboardUpdate) error {
	return c.do(ctx, http.MethodPut, "/dashboard/"+url.PathEscape(key), upd, nil)
}

// DeleteDashboard removes a dashboard.
func (c *Client) DeleteDashboard(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/dashboard/"+url.PathEscape(key), nil, nil)
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// Alerts lists the user's price alerts.
func (c *Client) Alerts(ctx context.Context) ([]domain.PriceAlert, error) {
	var as []domain.PriceAlert
	err := c.do(ctx, http.MethodGet, "/alerts", nil, &as)
	return as, err
}

// CreateAlert stores a new alert and returns it with its server id.
func (c *Client) CreateAlert(ctx context.Context, a domain.PriceAlert) (domain.PriceAlert, error) {
	var created domain.PriceAlert
	err := c.do(ctx, http.MethodPost, "/alerts", a, &created)
	return created, err
}

// UpdateAlert replaces an alert.
func (c *Client) UpdateAlert(ctx context.Context, a domain.PriceAlert) error {
	return c.do(ctx, http.MethodPut, "/alerts/"+url.PathEscape(a.ID), a, nil)
}

// DeleteAlert removes an alert.
func (c *Client) DeleteAlert(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/alerts/"+url.PathEscape(id), nil, nil)
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// Cryptocurrencies lists the coin catalogue. activeOnly=false includes
// deactivated coins (admin view).
func (c *Client) Cryptocurrencies(ctx context.Context, activeOnly bool) ([]domain.CurrencyInfo, error) {
	var cs []domain.CurrencyInfo
	path := "/cryptocurrencies?active_only=" + strconv.FormatBool(activeOnly)
	err := c.do(ctx, http.MethodGet, path, nil, &cs)
	return cs, err
}

// CreateCryptocurrency adds a coin to the catalogue.
func (c *Client) CreateCryptocurrency(ctx context.Context, info domain.CurrencyInfo) error {
	return c.do(ctx, http.MethodPost, "/cryptocurrencies", info, nil)
}

// UpdateCryptocurrency replaces a catalogue entry.
func (c *Client) UpdateCryptocurrency(ctx context.Context, info domain.CurrencyInfo) error {
	return c.do(ctx, http.MethodPut, "/cryptocurrencies/"+url.PathEscape(info.ID), info, nil)
}

// DeleteCryptocurrency removes a catalogue entry.
func (c *Client) DeleteCryptocurrency(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cryptocurrencies/"+url.PathEscape(id), nil, nil)
}

// Users lists all accounts.
func (c *Client) Users(ctx context.Context) ([]domain.User, error) {
	var us []domain.User
	err := c.do(ctx, http.MethodGet, "/users", nil, &us)
	return us, err
}

// SetUserRole changes an account's role.
func (c *Client) SetUserRole(ctx context.Context, email, role string) error {
	path := "/users/" + url.PathEscape(email) + "/role?role=" + url.QueryEscape(role)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// SetUserActive activates or deactivates an account.
func (c *Client) SetUserActive(ctx context.Context, email string, active bool) error {
	path := "/users/" + url.PathEscape(email) + "/status?is_active=" + strconv.FormatBool(active)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// IsAdmin reports whether the signed-in user has admin rights. A 403 is a
// plain "no", not an error.
func (c *Client) IsAdmin(ctx context.Context) (bool, error) {
	err := c.request(ctx, http.MethodGet, "/check-admin", nil, nil)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	c.handleAuthError(ctx, err)
	return false, err
}
