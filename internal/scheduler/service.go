// Package scheduler triggers pipeline runs on a cron expression or a fixed
// interval. A tick that arrives while the previous run is still active is
// skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "jobwatch/pkg/logx"
)

type RunFunc func(ctx context.Context) error

type Config struct {
	Schedule string
	Timezone string
	// RunTimeout bounds each triggered run; zero means none.
	RunTimeout time.Duration
}

type Snapshot struct {
	Schedule  string    `json:"schedule"`
	Timezone  string    `json:"timezone"`
	Running   bool      `json:"running"`
	Runs      uint64    `json:"runs"`
	Skipped   uint64    `json:"skipped"`
	Failures  uint64    `json:"failures"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastTook  string    `json:"last_took,omitempty"`
	LastErr   string    `json:"last_err,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	spec   ParsedSpec
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	run RunFunc
	log logx.Logger

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	smu       sync.Mutex
	lastStart time.Time
	lastTook  time.Duration
	lastErr   string
}

// New validates cfg but does not start triggering; see Run.
func New(cfg Config, run RunFunc, log logx.Logger) (*Service, error) {
	if run == nil {
		return nil, errors.New("scheduler: run func required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		run: run,
		log: log.With(logx.String("comp", "scheduler")),
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	spec, loc, err := s.resolve(cfg)
	if err != nil {
		return nil, err
	}
	s.cfg, s.spec, s.loc = cfg, spec, loc
	return s, nil
}

func (s *Service) resolve(cfg Config) (ParsedSpec, *time.Location, error) {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return ParsedSpec{}, nil, fmt.Errorf("scheduler.schedule: %w", err)
	}
	if spec.Kind == SpecCron {
		if _, err := s.parser.Parse(spec.Cron); err != nil {
			return ParsedSpec{}, nil, fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return ParsedSpec{}, nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return spec, loc, nil
}

// Run triggers until ctx is done, then waits for an in-flight run to finish.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.ctx = ctx
	if err := s.startLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info("service stopped")
	return nil
}

// Apply swaps the schedule, timezone and run timeout. A running trigger is
// rebuilt only when the schedule or timezone changed.
func (s *Service) Apply(cfg Config) error {
	spec, loc, err := s.resolve(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	reschedule := strings.TrimSpace(cfg.Schedule) != strings.TrimSpace(s.cfg.Schedule) ||
		strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg, s.spec, s.loc = cfg, spec, loc
	old := s.c
	if old == nil || !reschedule {
		s.mu.Unlock()
		return nil
	}
	s.c = nil
	s.mu.Unlock()

	// A tick in flight reads s.mu, so stop without holding it.
	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil || s.c != nil {
		return nil
	}
	return s.startLocked()
}

// startLocked builds and starts the cron. Call with s.mu held.
func (s *Service) startLocked() error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	job := cron.FuncJob(func() { s.tick() })
	if s.spec.Kind == SpecInterval {
		c.Schedule(cron.Every(s.spec.Every), job)
	} else if _, err := c.AddJob(s.spec.Cron, job); err != nil {
		return fmt.Errorf("scheduler.schedule: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info("service started",
		logx.String("schedule", s.spec.String()),
		logx.String("source", s.spec.Source),
		logx.String("tz", s.loc.String()),
	)
	return nil
}

// tick runs once unless a previous run is still active.
func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Info("tick skipped: previous run still active")
		return
	}
	defer s.running.Store(false)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	s.runs.Add(1)
	err := s.run(ctx)
	took := time.Since(start)

	s.smu.Lock()
	s.lastStart, s.lastTook = start, took
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.smu.Unlock()

	if err != nil {
		s.failures.Add(1)
		s.log.Warn("scheduled run failed", logx.Err(err), logx.Duration("took", took))
		return
	}
	s.log.Debug("scheduled run done", logx.Duration("took", took))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Schedule: s.spec.String(), Timezone: s.loc.String()}
	if s.c != nil {
		if entries := s.c.Entries(); len(entries) > 0 {
			snap.Next = entries[0].Next
		}
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Runs = s.runs.Load()
	snap.Skipped = s.skipped.Load()
	snap.Failures = s.failures.Load()

	s.smu.Lock()
	snap.LastStart = s.lastStart
	if s.lastTook > 0 {
		snap.LastTook = s.lastTook.String()
	}
	snap.LastErr = s.lastErr
	s.smu.Unlock()
	return snap
}
