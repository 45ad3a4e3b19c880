package app

import (
	"net/http"
	"strings"
	"time"

	"jobwatch/internal/config"
	"jobwatch/internal/httpapi"
	"jobwatch/internal/notifier"
	"jobwatch/internal/pipeline"
	"jobwatch/internal/ratelimit"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/source"
	"jobwatch/internal/storage"
	logx "jobwatch/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func storageConfig(cfg *config.Config, d config.Durations) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: d.StorageBusyTimeout,
	}
}

func notifierConfig(cfg *config.Config, d config.Durations) notifier.Config {
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: d.SendTimeout,
		HistorySize: cfg.Notifier.HistorySize,
	}
}

// pipelineConfig assumes cfg passed Validate, so the scope parses.
func pipelineConfig(cfg *config.Config, d config.Durations) pipeline.Config {
	scope, _ := ratelimit.ParseScope(cfg.RateLimit.Scope)
	return pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		RunTimeout: d.RunTimeout,
		Scope:      scope,
	}
}

func schedulerConfig(cfg *config.Config, d config.Durations) scheduler.Config {
	return scheduler.Config{
		Schedule:   cfg.Scheduler.Schedule,
		Timezone:   cfg.Scheduler.Timezone,
		RunTimeout: d.RunTimeout,
	}
}

func serverConfig(cfg *config.Config) httpapi.ServerConfig {
	sc := httpapi.DefaultServerConfig()
	sc.Addr = cfg.HTTPAddr()
	return sc
}

// location is where "today" starts for the read API; the scheduler's
// timezone when set.
func location(cfg *config.Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

// buildSource combines every configured feed and the optional fixture into
// one all-or-nothing source.
func buildSource(cfg *config.Config, d config.Durations, client *http.Client) *source.Multi {
	var srcs []source.Source
	for _, f := range cfg.Sources.Feeds {
		srcs = append(srcs, source.NewFeed(source.FeedConfig{
			URL:       strings.TrimSpace(f.URL),
			Origin:    f.Origin,
			Timeout:   d.SourceTimeout,
			UserAgent: cfg.Sources.UserAgent,
		}, client))
	}
	if p := strings.TrimSpace(cfg.Sources.Static); p != "" {
		srcs = append(srcs, source.NewStaticFile(p))
	}
	return source.NewMulti(srcs...)
}
