package config

import (
	"time"

	"github.com/angeloszaimis/proxypool/internal/feed"
	"github.com/angeloszaimis/proxypool/internal/prober"
	"github.com/angeloszaimis/proxypool/internal/registry"
	"github.com/angeloszaimis/proxypool/internal/scheduler"
)

// mustDuration is only called on validated values.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		Path:         c.Database.Path,
		MaxFailures:  c.Scheduler.MaxFailures,
		Retries:      c.Database.Retries,
		RetryBackoff: mustDuration(c.Database.RetryBackoff),
	}
}

func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		MetaURL:          c.Feed.MetaURL,
		HTTPListURL:      c.Feed.HTTPURL,
		HTTPSListURL:     c.Feed.HTTPSURL,
		Timeout:          mustDuration(c.Feed.Timeout),
		BreakerThreshold: c.Feed.BreakerThreshold,
		BreakerTimeout:   mustDuration(c.Feed.BreakerTimeout),
	}
}

func (c *Config) ProberConfig() prober.Config {
	return prober.Config{
		TargetURL:         c.Prober.TargetURL,
		Timeout:           mustDuration(c.Prober.Timeout),
		Concurrency:       c.Prober.Concurrency,
		PoolSize:          c.Prober.PoolSize,
		PerHostLimit:      c.Prober.PerHostLimit,
		DeepCheckInterval: mustDuration(c.Prober.DeepCheckInterval),
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		TickInterval:           mustDuration(c.Scheduler.TickInterval),
		MetaInterval:           mustDuration(c.Scheduler.MetaInterval),
		RevalidationInterval:   mustDuration(c.Scheduler.RevalidationInterval),
		MaxFailures:            c.Scheduler.MaxFailures,
		Concurrency:            c.Prober.Concurrency,
		DeepCheckAttempts:      c.Scheduler.DeepCheckAttempts,
		DeepCheckMinConfidence: c.Scheduler.DeepCheckMinConfidence,
	}
}
