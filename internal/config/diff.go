package config

import (
	"reflect"
	"strings"

	logx "jobwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe log
// attrs for them. Secrets (tokens, passwords, cron secret) are never logged,
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Keywords, newCfg.Keywords) {
		changed = append(changed, "keywords")
		attrs = append(attrs, logx.Int("keywords.count", len(newCfg.Vocabulary())))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.Int("sources.feeds", len(newCfg.Sources.Feeds)),
			logx.Bool("sources.static", strings.TrimSpace(newCfg.Sources.Static) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.RateLimit, newCfg.RateLimit) {
		changed = append(changed, "rate_limit")
		attrs = append(attrs,
			logx.String("rate_limit.backend", newCfg.RateLimitBackend()),
			logx.String("rate_limit.window", newCfg.RateLimit.Window),
			logx.String("rate_limit.scope", newCfg.RateLimit.Scope),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.workers", newCfg.Pipeline.Workers),
			logx.String("pipeline.run_timeout", newCfg.Pipeline.RunTimeout),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.schedule", newCfg.Scheduler.Schedule),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.secret_set", strings.TrimSpace(newCfg.HTTP.CronSecret) != ""),
		)
	}
	return changed, attrs
}

// RestartRequired lists changed settings that a running process cannot
// apply in place.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.RateLimitBackend() != newCfg.RateLimitBackend() || oldCfg.RateLimit.Redis != newCfg.RateLimit.Redis {
		out = append(out, "rate_limit.backend")
	}
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled {
		out = append(out, "scheduler.enabled")
	}
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled || oldCfg.HTTPAddr() != newCfg.HTTPAddr() {
		out = append(out, "http.addr")
	}
	return out
}
