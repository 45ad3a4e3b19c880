package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations are the parsed duration fields of a Config. Zero means the
// owning component picks its default.
type Durations struct {
	PollTimeout        time.Duration
	StorageBusyTimeout time.Duration
	SourceTimeout      time.Duration
	RateLimitWindow    time.Duration
	SendTimeout        time.Duration
	RunTimeout         time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout, &d.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout, &d.StorageBusyTimeout},
		{"sources.timeout", c.Sources.Timeout, &d.SourceTimeout},
		{"rate_limit.window", c.RateLimit.Window, &d.RateLimitWindow},
		{"notifier.send_timeout", c.Notifier.SendTimeout, &d.SendTimeout},
		{"pipeline.run_timeout", c.Pipeline.RunTimeout, &d.RunTimeout},
	}
	for _, f := range fields {
		if *f.dst, err = ParseDurationField(f.path, f.raw); err != nil {
			return Durations{}, err
		}
	}
	return d, nil
}
