package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobwatch/internal/config"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/httpapi"
	"jobwatch/internal/runtime/supervisor"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
	"jobwatch/pkg/systemd"
)

// Serve runs the bot, the scheduler, the HTTP API and config hot reload
// until ctx is done or a task fails, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	sctx := a.sup.Context()

	updates := make(chan transport.Update, 256)
	if err := a.adapter.Start(sctx, updates); err != nil {
		a.sup.Cancel()
		_ = a.Close()
		return fmt.Errorf("start transport: %w", err)
	}

	a.sup.Go("bot", func(c context.Context) error { return a.bot.Run(c, updates) })
	a.sup.Go("bot.menu", func(c context.Context) error {
		if err := a.bot.PublishMenu(c); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
		return nil
	})
	if a.sched != nil {
		a.sup.Go("scheduler", a.sched.Run)
	}
	if a.engine != nil {
		sc := serverConfig(a.cfgm.Get())
		a.sup.Go("http", func(c context.Context) error {
			return httpapi.Serve(c, sc, a.engine, a.log.With(logx.String("comp", "http")))
		})
	}
	a.sup.Go("events", func(c context.Context) error {
		eventbus.LogEvents(c, a.bus, a.log.With(logx.String("comp", "events")))
		return nil
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
	)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.sup.Err() == nil })
	})

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("serving",
		logx.Bool("scheduler", a.sched != nil),
		logx.Bool("http", a.engine != nil),
	)

	<-sctx.Done()
	runErr := a.sup.Err()
	if runErr != nil {
		a.log.Error("stopping after task failure", logx.Err(runErr))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	return runErr
}

// reloadLoop applies published configs, keeping only the newest of a burst.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			systemd.Reloading(func() { a.apply(last, next) })
			last = next
		}
	}
}

// apply pushes a validated config into every component that can change
// in place. Settings listed by config.RestartRequired are only reported.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reloaded without effective changes")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if pending := config.RestartRequired(oldCfg, newCfg); len(pending) > 0 {
		a.log.Warn("config change needs a restart", logx.Strings("settings", pending))
	}

	d, err := newCfg.Durations()
	if err != nil {
		a.log.Warn("config reload skipped", logx.Err(err))
		return
	}
	a.logs.Apply(logConfig(newCfg))
	a.extractor.SetVocabulary(newCfg.Vocabulary())
	a.limiter.SetWindow(d.RateLimitWindow)
	a.notif.Apply(notifierConfig(newCfg, d))
	a.pipe.Apply(pipelineConfig(newCfg, d))
	a.pipe.SetSource(buildSource(newCfg, d, a.client))
	if a.sched != nil {
		if err := a.sched.Apply(schedulerConfig(newCfg, d)); err != nil {
			a.log.Warn("scheduler reload failed", logx.Err(err))
		}
	}
	a.api.SetSecret(newCfg.HTTP.CronSecret)
	a.api.SetLocation(location(newCfg))
}

// Stop cancels every task and releases resources, bounding each step so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) {
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	if a.sup != nil {
		step("supervisor", 5*time.Second, a.sup.Wait)
	}
	step("resources", 2*time.Second, func(context.Context) error { return a.Close() })
}
