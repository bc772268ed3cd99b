// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Symbols   []string                `toml:"symbols"`
	Venues    map[string]VenueConfig  `toml:"venues"`
	Sources   map[string]SourceConfig `toml:"sources"`
	Monitor   MonitorConfig           `toml:"monitor"`
	Scanner   ScannerConfig           `toml:"scanner"`
	Risk      RiskConfig              `toml:"risk"`
	Execution ExecutionConfig         `toml:"execution"`
	Profit    ProfitConfig            `toml:"profit"`
	Postgres  PostgresConfig          `toml:"postgres"`
	Redis     RedisConfig             `toml:"redis"`
	S3        S3Config                `toml:"s3"`
	Notify    NotifyConfig            `toml:"notify"`
	Mode      string                  `toml:"mode"`
	LogLevel  string                  `toml:"log_level"`
}

// VenueConfig describes one exchange integration. Fees are fractions of
// notional (0.001 = 0.1%); the withdrawal fee is a fixed quote-currency
// amount. Tier 1 marks a top-tier venue for the risk heuristics.
type VenueConfig struct {
	Kind             string   `toml:"kind"` // "binance" or "paper"
	RestHost         string   `toml:"rest_host"`
	WsHost           string   `toml:"ws_host"`
	ApiKey           string   `toml:"api_key"`
	ApiSecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	MakerFee         float64  `toml:"maker_fee"`
	TakerFee         float64  `toml:"taker_fee"`
	WithdrawalFee    float64  `toml:"withdrawal_fee"`
	Tier             int      `toml:"tier"`
	BaseLatency      duration `toml:"base_latency"`
}

// SourceConfig describes one read-only alternate price source.
type SourceConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// MonitorConfig holds price-monitor parameters.
type MonitorConfig struct {
	RefreshInterval    duration `toml:"refresh_interval"`
	FetchTimeout       duration `toml:"fetch_timeout"`
	HistorySize        int      `toml:"history_size"`
	HistoryMaxAge      duration `toml:"history_max_age"`
	DeviationThreshold float64  `toml:"deviation_threshold"`
	VolumeSpikeFactor  float64  `toml:"volume_spike_factor"`
	AlertRetention     duration `toml:"alert_retention"`
}

// ScannerConfig holds opportunity-scanner parameters.
type ScannerConfig struct {
	ScanInterval  duration `toml:"scan_interval"`
	MinSpreadPct  float64  `toml:"min_spread_pct"`
	MaxSpreadPct  float64  `toml:"max_spread_pct"`
	MinVolume     float64  `toml:"min_volume"`
	MinConfidence float64  `toml:"min_confidence"`
	MaxRiskScore  float64  `toml:"max_risk_score"`
	QueueTTL      duration `toml:"queue_ttl"`
	StaleQuoteAge duration `toml:"stale_quote_age"`
	ThinVolume    float64  `toml:"thin_volume"`
}

// RiskConfig holds the static risk limits.
type RiskConfig struct {
	MaxPositionSize float64 `toml:"max_position_size"`
	MaxDailyLoss    float64 `toml:"max_daily_loss"`
	MaxDailyTrades  int     `toml:"max_daily_trades"`
	MinLiquidity    float64 `toml:"min_liquidity"`
	MaxVolatility   float64 `toml:"max_volatility"`
	MaxTrendSlope   float64 `toml:"max_trend_slope"`
	HistoryWindow   int     `toml:"history_window"`
}

// ExecutionConfig holds execution-engine parameters.
type ExecutionConfig struct {
	MaxOrderSize     float64  `toml:"max_order_size"`
	MinOrderVolume   float64  `toml:"min_order_volume"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryDelay       duration `toml:"retry_delay"`
	PollInterval     duration `toml:"poll_interval"`
	MaxExecutionTime duration `toml:"max_execution_time"`
	MaxFreshness     duration `toml:"max_freshness"`
	ConsumeInterval  duration `toml:"consume_interval"`
	StatsInterval    duration `toml:"stats_interval"`
	RetentionDays    int      `toml:"retention_days"`
}

// ProfitConfig holds profit-model parameters.
type ProfitConfig struct {
	MaxInvestment     float64            `toml:"max_investment"`
	VolatilityFactors map[string]float64 `toml:"volatility_factors"`
	DefaultVolFactor  float64            `toml:"default_vol_factor"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding, e.g. scan_interval = "2s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for symmetry.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. Every knob has a sane default;
// a config file only needs to override what differs.
func Defaults() Config {
	return Config{
		Symbols: []string{"BTC/USDT"},
		Venues:  map[string]VenueConfig{},
		Sources: map[string]SourceConfig{},
		Monitor: MonitorConfig{
			RefreshInterval:    duration{1 * time.Second},
			FetchTimeout:       duration{5 * time.Second},
			HistorySize:        1000,
			HistoryMaxAge:      duration{1 * time.Hour},
			DeviationThreshold: 0.05,
			VolumeSpikeFactor:  3.0,
			AlertRetention:     duration{1 * time.Hour},
		},
		Scanner: ScannerConfig{
			ScanInterval:  duration{2 * time.Second},
			MinSpreadPct:  0.001,
			MaxSpreadPct:  0.05,
			MinVolume:     0.01,
			MinConfidence: 0.8,
			MaxRiskScore:  0.7,
			QueueTTL:      duration{5 * time.Minute},
			StaleQuoteAge: duration{60 * time.Second},
			ThinVolume:    1000,
		},
		Risk: RiskConfig{
			MaxPositionSize: 100_000,
			MaxDailyLoss:    1_000,
			MaxDailyTrades:  100,
			MinLiquidity:    0.01,
			MaxVolatility:   0.1,
			MaxTrendSlope:   500,
			HistoryWindow:   1000,
		},
		Execution: ExecutionConfig{
			MaxOrderSize:     10,
			MinOrderVolume:   0.001,
			RetryAttempts:    3,
			RetryDelay:       duration{1 * time.Second},
			PollInterval:     duration{500 * time.Millisecond},
			MaxExecutionTime: duration{30 * time.Second},
			MaxFreshness:     duration{30 * time.Second},
			ConsumeInterval:  duration{100 * time.Millisecond},
			StatsInterval:    duration{10 * time.Second},
			RetentionDays:    30,
		},
		Profit: ProfitConfig{
			MaxInvestment:     10_000,
			VolatilityFactors: map[string]float64{},
			DefaultVolFactor:  0.8,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "crossarb",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "crossarb-archive",
			ForcePathStyle: true,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one tracked symbol is required")
	}
	if len(c.Venues) < 2 {
		errs = append(errs, fmt.Sprintf("venues: at least two venues are required, got %d", len(c.Venues)))
	}
	for name, v := range c.Venues {
		switch v.Kind {
		case "binance", "paper":
		default:
			errs = append(errs, fmt.Sprintf("venues.%s: unknown kind %q (valid: binance, paper)", name, v.Kind))
		}
		if v.Kind == "binance" && v.RestHost == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: rest_host must not be empty", name))
		}
		if c.Mode == "trade" && v.Kind == "binance" {
			if v.ApiKey == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: api_key is required for trade mode", name))
			}
			if v.ApiSecret == "" && v.EncryptedKeyPath == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: either api_secret or encrypted_key_path must be set for trade mode", name))
			}
			if v.EncryptedKeyPath != "" && v.KeyPassword == "" {
				errs = append(errs, fmt.Sprintf("venues.%s: key_password is required when encrypted_key_path is set", name))
			}
		}
		if v.MakerFee < 0 || v.TakerFee < 0 || v.WithdrawalFee < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: fees must not be negative", name))
		}
	}

	if c.Scanner.MinSpreadPct <= 0 {
		errs = append(errs, "scanner: min_spread_pct must be positive")
	}
	if c.Scanner.MaxSpreadPct <= c.Scanner.MinSpreadPct {
		errs = append(errs, "scanner: max_spread_pct must be greater than min_spread_pct")
	}
	if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 1 {
		errs = append(errs, "scanner: min_confidence must be in [0,1]")
	}
	if c.Scanner.MaxRiskScore < 0 || c.Scanner.MaxRiskScore > 1 {
		errs = append(errs, "scanner: max_risk_score must be in [0,1]")
	}

	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be positive")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be positive")
	}
	if c.Risk.MaxDailyTrades <= 0 {
		errs = append(errs, "risk: max_daily_trades must be positive")
	}

	if c.Execution.RetryAttempts < 1 {
		errs = append(errs, "execution: retry_attempts must be >= 1")
	}
	if c.Execution.MaxOrderSize <= 0 {
		errs = append(errs, "execution: max_order_size must be positive")
	}
	if c.Execution.MaxExecutionTime.Duration <= 0 {
		errs = append(errs, "execution: max_execution_time must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when s3 is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// VenueNames returns the configured venue names in no particular order.
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		names = append(names, name)
	}
	return names
}
