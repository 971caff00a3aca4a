package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Cron        CronConfig        `mapstructure:"cron"`
	Betting     BettingConfig     `mapstructure:"betting"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	PriceFeed   PriceFeedConfig   `mapstructure:"price_feed"`
	OutcomeFeed OutcomeFeedConfig `mapstructure:"outcome_feed"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`

	// Filename enables a rotating file sink alongside stdout when set.
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PendingPromote string `mapstructure:"pending_promote"`
	FeedHealth     string `mapstructure:"feed_health"`
}

// BettingConfig carries the stake and leverage bounds as decimal strings so
// the limits survive the config boundary without a float round trip. Parse
// them once with Limits.
type BettingConfig struct {
	MinStake    string `mapstructure:"min_stake"`
	MaxStake    string `mapstructure:"max_stake"`
	MaxLeverage string `mapstructure:"max_leverage"`
}

// BettingLimits is the parsed form of BettingConfig, injected into the
// settlement service at construction.
type BettingLimits struct {
	MinStake    decimal.Decimal
	MaxStake    decimal.Decimal
	MaxLeverage decimal.Decimal
}

func (b BettingConfig) Limits() (BettingLimits, error) {
	minStake, err := decimal.NewFromString(strings.TrimSpace(b.MinStake))
	if err != nil {
		return BettingLimits{}, fmt.Errorf("betting.min_stake %q: %w", b.MinStake, err)
	}
	maxStake, err := decimal.NewFromString(strings.TrimSpace(b.MaxStake))
	if err != nil {
		return BettingLimits{}, fmt.Errorf("betting.max_stake %q: %w", b.MaxStake, err)
	}
	maxLeverage, err := decimal.NewFromString(strings.TrimSpace(b.MaxLeverage))
	if err != nil {
		return BettingLimits{}, fmt.Errorf("betting.max_leverage %q: %w", b.MaxLeverage, err)
	}
	if !minStake.IsPositive() {
		return BettingLimits{}, fmt.Errorf("betting.min_stake %s must be positive", minStake)
	}
	if maxStake.LessThan(minStake) {
		return BettingLimits{}, fmt.Errorf("betting.max_stake %s below min_stake %s", maxStake, minStake)
	}
	if maxLeverage.LessThan(decimal.NewFromInt(1)) {
		return BettingLimits{}, fmt.Errorf("betting.max_leverage %s must be at least 1", maxLeverage)
	}
	return BettingLimits{MinStake: minStake, MaxStake: maxStake, MaxLeverage: maxLeverage}, nil
}

type ResolverConfig struct {
	PredictionInterval  time.Duration `mapstructure:"prediction_interval"`
	PositionInterval    time.Duration `mapstructure:"position_interval"`
	MarketInterval      time.Duration `mapstructure:"market_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	PendingPromoteAfter time.Duration `mapstructure:"pending_promote_after"`
}

type PriceFeedConfig struct {
	Endpoints    []string      `mapstructure:"endpoints"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait time.Duration `mapstructure:"retry_max_wait"`
	Stream       StreamConfig  `mapstructure:"stream"`
}

type StreamConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	BackoffMin        time.Duration `mapstructure:"backoff_min"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

type OutcomeFeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.pending_promote", "@every 1m")
	v.SetDefault("cron.feed_health", "@every 30s")
	v.SetDefault("betting.min_stake", "1")
	v.SetDefault("betting.max_stake", "100000")
	v.SetDefault("betting.max_leverage", "100")
	v.SetDefault("resolver.prediction_interval", "10s")
	v.SetDefault("resolver.position_interval", "60s")
	v.SetDefault("resolver.market_interval", "300s")
	v.SetDefault("resolver.batch_size", 500)
	v.SetDefault("resolver.pending_promote_after", "2m")
	v.SetDefault("price_feed.endpoints", []string{
		"https://api.binance.com",
		"https://data-api.binance.vision",
	})
	v.SetDefault("price_feed.timeout", "5s")
	v.SetDefault("price_feed.retry_count", 3)
	v.SetDefault("price_feed.retry_wait", "500ms")
	v.SetDefault("price_feed.retry_max_wait", "4s")
	v.SetDefault("price_feed.stream.enabled", true)
	v.SetDefault("price_feed.stream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("price_feed.stream.backoff_min", "1s")
	v.SetDefault("price_feed.stream.backoff_max", "30s")
	v.SetDefault("price_feed.stream.heartbeat_interval", "20s")
	v.SetDefault("price_feed.stream.ping_timeout", "5s")
	v.SetDefault("price_feed.stream.stale_after", "15s")
	v.SetDefault("outcome_feed.base_url", "")
	v.SetDefault("outcome_feed.timeout", "5s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Betting.Limits(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
