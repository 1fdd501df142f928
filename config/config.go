package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StrategyFastestBiased = "fastest-biased"
	StrategyRandom        = "random"
	StrategyFastest       = "fastest"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	Retries      int    `mapstructure:"retries"`
	RetryBackoff string `mapstructure:"retry_backoff"`
}

type FeedConfig struct {
	MetaURL          string `mapstructure:"meta_url"`
	HTTPURL          string `mapstructure:"http_url"`
	HTTPSURL         string `mapstructure:"https_url"`
	Timeout          string `mapstructure:"timeout"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
	BreakerTimeout   string `mapstructure:"breaker_timeout"`
}

type ProberConfig struct {
	TargetURL         string `mapstructure:"target_url"`
	Timeout           string `mapstructure:"timeout"`
	Concurrency       int    `mapstructure:"concurrency"`
	PoolSize          int    `mapstructure:"pool_size"`
	PerHostLimit      int    `mapstructure:"per_host_limit"`
	DeepCheckInterval string `mapstructure:"deep_check_interval"`
}

type SchedulerConfig struct {
	TickInterval           string  `mapstructure:"tick_interval"`
	MetaInterval           string  `mapstructure:"meta_interval"`
	RevalidationInterval   string  `mapstructure:"revalidation_interval"`
	MaxFailures            int     `mapstructure:"max_failures"`
	DeepCheckAttempts      int     `mapstructure:"deep_check_attempts"`
	DeepCheckMinConfidence float64 `mapstructure:"deep_check_min_confidence"`
}

type SelectionConfig struct {
	Strategy string  `mapstructure:"strategy"`
	Bias     float64 `mapstructure:"bias"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Prober    ProberConfig    `mapstructure:"prober"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Selection SelectionConfig `mapstructure:"selection"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("database.path", "proxies.db")
	v.SetDefault("database.retries", 3)
	v.SetDefault("database.retry_backoff", "50ms")

	v.SetDefault("feed.meta_url", "https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/meta/data.json")
	v.SetDefault("feed.http_url", "https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/protocols/http/data.txt")
	v.SetDefault("feed.https_url", "https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/protocols/https/data.txt")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.breaker_threshold", 3)
	v.SetDefault("feed.breaker_timeout", "2m")

	v.SetDefault("prober.target_url", "https://www.google.com/maps/preview/reveal?authuser=0&hl=en&gl=us")
	v.SetDefault("prober.timeout", "5s")
	v.SetDefault("prober.concurrency", 500)
	v.SetDefault("prober.pool_size", 2000)
	v.SetDefault("prober.per_host_limit", 500)
	v.SetDefault("prober.deep_check_interval", "1s")

	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("scheduler.meta_interval", "60s")
	v.SetDefault("scheduler.revalidation_interval", "20m")
	v.SetDefault("scheduler.max_failures", 5)
	v.SetDefault("scheduler.deep_check_attempts", 0)
	v.SetDefault("scheduler.deep_check_min_confidence", 0.5)

	v.SetDefault("selection.strategy", StrategyFastestBiased)
	v.SetDefault("selection.bias", 0.7)

	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads .env, then config.yaml from ./config or the working directory,
// then environment variables such as SCHEDULER_TICK_INTERVAL.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env file", slog.String("error", err.Error()))
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Database,
			validation.By(func(value interface{}) error {
				dc, ok := value.(DatabaseConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a DatabaseConfig")
				}
				return validation.ValidateStruct(&dc,
					validation.Field(&dc.Path, validation.Required),
					validation.Field(&dc.Retries, validation.Min(0)),
					validation.Field(&dc.RetryBackoff, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Feed,
			validation.By(func(value interface{}) error {
				fc, ok := value.(FeedConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a FeedConfig")
				}
				return validation.ValidateStruct(&fc,
					validation.Field(&fc.MetaURL, validation.Required, validation.By(validateHTTPURL)),
					validation.Field(&fc.HTTPURL, validation.Required, validation.By(validateHTTPURL)),
					validation.Field(&fc.HTTPSURL, validation.Required, validation.By(validateHTTPURL)),
					validation.Field(&fc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&fc.BreakerThreshold, validation.Required, validation.Min(1)),
					validation.Field(&fc.BreakerTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Prober,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProberConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProberConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.TargetURL, validation.Required, validation.By(validateHTTPURL)),
					validation.Field(&pc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.Concurrency, validation.Required, validation.Min(1)),
					validation.Field(&pc.PoolSize, validation.Required, validation.Min(1)),
					validation.Field(&pc.PerHostLimit, validation.Required, validation.Min(1)),
					validation.Field(&pc.DeepCheckInterval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Scheduler,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SchedulerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SchedulerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.TickInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.MetaInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.RevalidationInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.MaxFailures, validation.Required, validation.Min(1)),
					validation.Field(&sc.DeepCheckAttempts, validation.Min(0)),
					validation.Field(&sc.DeepCheckMinConfidence, validation.Min(0.0), validation.Max(1.0)),
				)
			}),
		),
		validation.Field(&c.Selection,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SelectionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SelectionConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Strategy,
						validation.Required,
						validation.In(StrategyFastestBiased, StrategyRandom, StrategyFastest),
					),
					validation.Field(&sc.Bias, validation.Min(0.0), validation.Max(1.0)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func validateHTTPURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
