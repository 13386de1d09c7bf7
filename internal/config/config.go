package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for cryptodash.
type Config struct {
	UserAPI  UserAPI  `yaml:"user_api"`
	Market   Market   `yaml:"market"`
	Cache    Cache    `yaml:"cache"`
	PriceBus PriceBus `yaml:"pricebus"`
	Layout   Layout   `yaml:"layout"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
	Alerts   Alerts   `yaml:"alerts"`
}

// UserAPI points at the account/dashboard backend.
type UserAPI struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// ReadRetries is the number of attempts for idempotent GETs.
	ReadRetries int `yaml:"read_retries"`
}

// Market points at the market data backend and tunes the data facade.
type Market struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	// SyntheticFallback makes the facade return generated placeholder data
	// (tagged Synthetic) when a fetch fails and nothing is cached. When
	// false such reads come back Unavailable.
	SyntheticFallback bool `yaml:"synthetic_fallback"`
}

// Cache holds the freshness window of each cached resource class.
type Cache struct {
	PriceTTL      time.Duration `yaml:"price_ttl"`
	ForecastTTL   time.Duration `yaml:"forecast_ttl"`
	InfoTTL       time.Duration `yaml:"info_ttl"`
	HistoricalTTL time.Duration `yaml:"historical_ttl"`
}

// PriceBus configures the shared live price WebSocket.
type PriceBus struct {
	URL              string        `yaml:"url"`
	ReconnectBase    time.Duration `yaml:"reconnect_base"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
	MaxRetries       int           `yaml:"max_retries"`
	CloseWhenIdle    bool          `yaml:"close_when_idle"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

// Layout tunes the widget grid and its persistence.
type Layout struct {
	Debounce time.Duration `yaml:"debounce"`
	Columns  int           `yaml:"columns"`
}

// Storage selects where client-side state (token, layout mirror) and the
// history archive live.
type Storage struct {
	// Driver is "sqlite", "redis" or "memory".
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
	ArchiveDir  string `yaml:"archive_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Alerts configures the alert watcher.
type Alerts struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DeleteTriggered bool          `yaml:"delete_triggered"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns a configuration pointing at the local development backends.
func Default() *Config {
	return &Config{
		UserAPI: UserAPI{
			BaseURL:     "http://localhost:8000",
			Timeout:     30 * time.Second,
			ReadRetries: 3,
		},
		Market: Market{
			BaseURL:           "http://localhost:8001",
			Timeout:           30 * time.Second,
			RateLimitPerMin:   0,
			RateLimitBurst:    1,
			BatchConcurrency:  8,
			SyntheticFallback: true,
		},
		Cache: Cache{
			PriceTTL:      60 * time.Second,
			ForecastTTL:   30 * time.Minute,
			InfoTTL:       24 * time.Hour,
			HistoricalTTL: 6 * time.Hour,
		},
		PriceBus: PriceBus{
			URL:              "ws://localhost:8001/ws/updates",
			ReconnectBase:    5 * time.Second,
			ReconnectMax:     time.Minute,
			MaxRetries:       10,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      time.Minute,
		},
		Layout: Layout{
			Debounce: 400 * time.Millisecond,
			Columns:  12,
		},
		Storage: Storage{
			Driver:      "sqlite",
			SQLitePath:  "cryptodash.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "cryptodash:",
			ArchiveDir:  "",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Alerts: Alerts{
			RefreshInterval: time.Minute,
			DeleteTriggered: true,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default, and then applies environment variable overrides. A ".env" file in
// the working directory is loaded first when present. An empty path skips
// the YAML step.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional is Load that tolerates a missing file.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.UserAPI.BaseURL == "" {
		errs = append(errs, errors.New("user_api.base_url is required"))
	}
	if c.Market.BaseURL == "" {
		errs = append(errs, errors.New("market.base_url is required"))
	}
	if c.PriceBus.URL == "" {
		errs = append(errs, errors.New("pricebus.url is required"))
	}
	if c.Layout.Debounce <= 0 {
		errs = append(errs, errors.New("layout.debounce must be positive"))
	}
	if c.Layout.Columns <= 0 {
		errs = append(errs, errors.New("layout.columns must be positive"))
	}
	if c.Alerts.RefreshInterval <= 0 {
		errs = append(errs, errors.New("alerts.refresh_interval must be positive"))
	}
	switch c.Storage.Driver {
	case "sqlite", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, redis, memory", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CRYPTODASH_USER_API_URL"); v != "" {
		cfg.UserAPI.BaseURL = v
	}
	if v := os.Getenv("CRYPTODASH_MARKET_API_URL"); v != "" {
		cfg.Market.BaseURL = v
	}
	if v := os.Getenv("CRYPTODASH_WS_URL"); v != "" {
		cfg.PriceBus.URL = v
	}
	if v := os.Getenv("CRYPTODASH_SYNTHETIC_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRYPTODASH_SYNTHETIC_FALLBACK: %w", err)
		}
		cfg.Market.SyntheticFallback = b
	}
	if v := os.Getenv("CRYPTODASH_LAYOUT_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CRYPTODASH_LAYOUT_DEBOUNCE: %w", err)
		}
		cfg.Layout.Debounce = d
	}

	if v := os.Getenv("CRYPTODASH_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CRYPTODASH_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("CRYPTODASH_ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRYPTODASH_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return nil
}
