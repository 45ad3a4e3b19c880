package config

// Config is the whole service configuration. Durations are Go duration
// strings ("30s", "5m"); empty means the component default.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Storage   StorageConfig   `json:"storage"`
	Keywords  KeywordsConfig  `json:"keywords"`
	Sources   SourcesConfig   `json:"sources"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Notifier  NotifierConfig  `json:"notifier"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log records at or above MinLevel into an
// operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied as JOBWATCH_TELEGRAM_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

// StorageConfig selects the relational store.
//
// Example:
//
//	storage: { driver: sqlite, dsn: ./data/jobwatch.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// KeywordsConfig replaces the built-in vocabulary when Vocabulary is set.
// Extra terms are appended either way.
type KeywordsConfig struct {
	Vocabulary []string `json:"vocabulary,omitempty"`
	Extra      []string `json:"extra,omitempty"`
}

type SourcesConfig struct {
	Feeds []FeedConfig `json:"feeds,omitempty"`
	// Static is a YAML fixture of postings, re-read on every run.
	Static    string `json:"static,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type FeedConfig struct {
	URL    string `json:"url"`
	Origin string `json:"origin,omitempty"`
}

type RateLimitConfig struct {
	// Backend is memory (default), store or redis.
	Backend string      `json:"backend"`
	Window  string      `json:"window"`
	Scope   string      `json:"scope"`
	Redis   RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
	HistorySize int    `json:"history_size"`
}

type PipelineConfig struct {
	Workers    int    `json:"workers"`
	RunTimeout string `json:"run_timeout"`
}

// SchedulerConfig triggers runs inside `serve`. Schedule accepts a cron
// expression, "@every 10m", a bare duration, an "HH:MM" interval or
// "daily:HH:MM".
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// CronSecret guards POST /api/run when set.
	CronSecret string `json:"cron_secret,omitempty"`
}
