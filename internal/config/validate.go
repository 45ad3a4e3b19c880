package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"jobwatch/internal/keyword"
	"jobwatch/internal/ratelimit"
)

// Env names that override secrets and connection strings.
const (
	EnvTelegramToken = "JOBWATCH_TELEGRAM_TOKEN"
	EnvCronSecret    = "JOBWATCH_CRON_SECRET"
	EnvDatabaseDSN   = "JOBWATCH_DATABASE_DSN"
	EnvRedisPassword = "JOBWATCH_REDIS_PASSWORD"
)

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.HTTP.CronSecret, EnvCronSecret)
	set(&cfg.Storage.DSN, EnvDatabaseDSN)
	set(&cfg.RateLimit.Redis.Password, EnvRedisPassword)
}

// Vocabulary returns the configured vocabulary, or the built-in one, plus
// any extra terms.
func (c *Config) Vocabulary() []string {
	base := c.Keywords.Vocabulary
	if len(base) == 0 {
		base = keyword.DefaultVocabulary
	}
	out := make([]string, 0, len(base)+len(c.Keywords.Extra))
	out = append(out, base...)
	return append(out, c.Keywords.Extra...)
}

// Validate checks everything that can be checked without opening
// connections. Schedule syntax is checked by the scheduler.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "pg":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	for i, f := range c.Sources.Feeds {
		u, err := url.Parse(strings.TrimSpace(f.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sources.feeds[%d].url: want an http(s) URL, got %q", i, f.URL))
		}
	}

	switch c.RateLimitBackend() {
	case "memory", "store":
	case "redis":
		if strings.TrimSpace(c.RateLimit.Redis.Addr) == "" {
			errs = append(errs, errors.New("rate_limit.redis.addr: required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend: unknown backend %q", c.RateLimit.Backend))
	}
	if _, err := ratelimit.ParseScope(c.RateLimit.Scope); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit.scope: %w", err))
	}

	if c.Pipeline.Workers < 0 {
		errs = append(errs, errors.New("pipeline.workers: must be >= 0"))
	}
	if c.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Schedule) == "" {
		errs = append(errs, errors.New("scheduler.schedule: required when the scheduler is enabled"))
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id: required when chat logging is enabled"))
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) != "" {
		if _, port, err := net.SplitHostPort(c.HTTP.Addr); err != nil || port == "" {
			errs = append(errs, fmt.Errorf("http.addr: invalid address %q", c.HTTP.Addr))
		}
	}
	return errors.Join(errs...)
}

// RateLimitBackend returns the normalized backend name.
func (c *Config) RateLimitBackend() string {
	b := strings.ToLower(strings.TrimSpace(c.RateLimit.Backend))
	if b == "" {
		return "memory"
	}
	return b
}

// HTTPAddr returns the listen address, defaulting to :8080.
func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return ":8080"
}
