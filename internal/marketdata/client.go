package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptodash/internal/domain"
	"cryptodash/internal/telemetry"
	"cryptodash/internal/util"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// Client talks to the market data API (prices, forecasts, history) and to
// the user API's public currency metadata endpoint.
type Client struct {
	baseURL    string
	infoURL    string
	httpClient *http.Client
	limiter    *util.RateLimiter
}

// NewClient creates a market data client. infoURL is the base URL serving
// /cryptocurrencies/{id}. A nil limiter disables rate limiting.
func NewClient(baseURL, infoURL string, timeout time.Duration, limiter *util.RateLimiter) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		infoURL:    strings.TrimRight(infoURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (c *Client) getJSON(ctx context.Context, resource, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		telemetry.FetchDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: rawURL, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", resource, err)
	}
	return nil
}

// FetchPrice returns the current price of coin from GET /api/price/{coin}.
func (c *Client) FetchPrice(ctx context.Context, coin string) (float64, error) {
	var body struct {
		Price *float64 `json:"price"`
	}
	u := c.baseURL + "/api/price/" + url.PathEscape(coin)
	if err := c.getJSON(ctx, "price", u, &body); err != nil {
		return 0, err
	}
	if body.Price == nil {
		return 0, fmt.Errorf("price response for %s has no price", coin)
	}
	return *body.Price, nil
}

// forecastPoint is the object form of a forecast sample.
type forecastPoint struct {
	Datetime string  `json:"datetime"`
	Price    float64 `json:"price"`
}

var forecastLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

func parseForecastTime(s string) (time.Time, error) {
	for _, layout := range forecastLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised forecast datetime %q", s)
}

// FetchForecast returns the predicted series for coin over period from
// GET /api/predict/{coin}/{period}. The API answers either with
// {"predictions": [[ts, price], ...]} or {"forecast": [{"datetime", "price"}]}.
func (c *Client) FetchForecast(ctx context.Context, coin string, period domain.Period) (domain.Series, error) {
	var body struct {
		Predictions domain.Series   `json:"predictions"`
		Forecast    []forecastPoint `json:"forecast"`
	}
	u := c.baseURL + "/api/predict/" + url.PathEscape(coin) + "/" + url.PathEscape(string(period))
	if err := c.getJSON(ctx, "forecast", u, &body); err != nil {
		return nil, err
	}

	if len(body.Predictions) > 0 {
		return body.Predictions, nil
	}
	if len(body.Forecast) == 0 {
		return nil, fmt.Errorf("forecast response for %s/%s is empty", coin, period)
	}
	series := make(domain.Series, 0, len(body.Forecast))
	for _, fp := range body.Forecast {
		t, err := parseForecastTime(fp.Datetime)
		if err != nil {
			return nil, err
		}
		series = append(series, domain.Point{Time: t.UnixMilli(), Price: fp.Price})
	}
	return series, nil
}

// FetchHistorical returns the price history of coin over period from
// GET /api/historical/{coin}/{period}.
func (c *Client) FetchHistorical(ctx context.Context, coin string, period domain.Period) (domain.Series, error) {
	u := c.baseURL + "/api/historical/" + url.PathEscape(coin) + "/" + url.PathEscape(string(period))
	return c.fetchPrices(ctx, coin, u)
}

// FetchHistoricalRange returns the price history of coin between two
// YYYY-MM-DD dates from GET /api/historical/by-dates.
func (c *Client) FetchHistoricalRange(ctx context.Context, coin, from, to string) (domain.Series, error) {
	q := url.Values{}
	q.Set("coin_id", coin)
	q.Set("start", from)
	q.Set("end", to)
	return c.fetchPrices(ctx, coin, c.baseURL+"/api/historical/by-dates?"+q.Encode())
}

func (c *Client) fetchPrices(ctx context.Context, coin, u string) (domain.Series, error) {
	var body struct {
		Prices domain.Series `json:"prices"`
	}
	if err := c.getJSON(ctx, "historical", u, &body); err != nil {
		return nil, err
	}
	if len(body.Prices) == 0 {
		return nil, fmt.Errorf("historical response for %s is empty", coin)
	}
	return body.Prices, nil
}

// FetchCurrencyInfo returns the metadata of coin from
// GET {infoURL}/cryptocurrencies/{coin}.
func (c *Client) FetchCurrencyInfo(ctx context.Context, coin string) (domain.CurrencyInfo, error) {
	var info domain.CurrencyInfo
	u := c.infoURL + "/cryptocurrencies/" + url.PathEscape(coin)
	if err := c.getJSON(ctx, "info", u, &info); err != nil {
		return domain.CurrencyInfo{}, err
	}
	if info.ID == "" {
		info.ID = coin
	}
	return info, nil
}

// IsNotFound reports whether err is a 404 from the market API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
