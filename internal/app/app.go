// Package app wires configuration, storage, the pipeline and the chat and
// HTTP surfaces into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"jobwatch/internal/bot"
	"jobwatch/internal/config"
	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/httpapi"
	"jobwatch/internal/keyword"
	"jobwatch/internal/notifier"
	"jobwatch/internal/pipeline"
	"jobwatch/internal/ratelimit"
	"jobwatch/internal/runtime/supervisor"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/storage"
	"jobwatch/internal/transport"
	"jobwatch/internal/transport/telegram"
	logx "jobwatch/pkg/logx"
)

type Options struct {
	ConfigPath string
	// DryRun swaps the chat transport for the log transport. Postings are
	// still recorded.
	DryRun bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// windowLimiter is a rate limiter whose window can be changed on reload.
type windowLimiter interface {
	ratelimit.Limiter
	SetWindow(time.Duration)
}

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	store        *storage.Store
	extractor    *keyword.Extractor
	limiter      windowLimiter
	closeLimiter func() error
	bus          eventbus.Bus
	client       *http.Client

	adapter transport.Adapter
	notif   *notifier.Service
	pipe    *pipeline.Orchestrator
	bot     *bot.Bot
	sched   *scheduler.Service
	api     *httpapi.Handler
	engine  *gin.Engine

	sup *supervisor.Supervisor
}

// bootstrap loads the config and starts logging; every command needs both.
func bootstrap(opts Options) (*config.ConfigManager, *config.Config, *logx.Service, logx.Logger, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = "./config.yaml"
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfgm := config.NewConfigManager(path)
	cfgm.SetEnv(getenv)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, nil, logx.Logger{}, err
	}
	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return cfgm, cfg, logs, log, nil
}

// validateRuntime rejects what config.Validate cannot check on its own.
func validateRuntime(ctx context.Context, cfg *config.Config) error {
	if cfg.Scheduler.Enabled {
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	return nil
}

func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfgm, cfg, logs, log, err := bootstrap(opts)
	if err != nil {
		return nil, err
	}
	a := &App{cfgm: cfgm, logs: logs, log: log, bus: eventbus.New(), client: &http.Client{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(ctx, storageConfig(cfg, d), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.extractor = keyword.NewExtractor(cfg.Vocabulary())
	if a.limiter, a.closeLimiter, err = buildLimiter(cfg, d, a.store); err != nil {
		return nil, err
	}

	if a.adapter, err = a.buildAdapter(cfg, d, opts.DryRun); err != nil {
		return nil, err
	}
	a.notif = notifier.New(notifierConfig(cfg, d), a.adapter, log.With(logx.String("comp", "notifier")), a.bus)
	a.pipe = pipeline.New(pipelineConfig(cfg, d), pipeline.Deps{
		Source:        buildSource(cfg, d, a.client),
		Postings:      a.store,
		Subscriptions: a.store,
		Notifications: a.store,
		Matcher:       a.extractor,
		Limiter:       a.limiter,
		Sender:        a.notif,
		Bus:           a.bus,
		Log:           log,
	})
	a.bot = bot.New(bot.Config{}, a.store, a.extractor, a.adapter, log)

	if cfg.Scheduler.Enabled {
		a.sched, err = scheduler.New(schedulerConfig(cfg, d), a.runScheduled, log)
		if err != nil {
			return nil, err
		}
	}

	a.api = httpapi.NewHandler(a.pipe, a.store, a.health, log)
	a.api.SetSecret(cfg.HTTP.CronSecret)
	a.api.SetLocation(location(cfg))
	a.api.SetHistory(a.notif.Snapshot)
	if cfg.HTTP.Enabled {
		a.engine = httpapi.NewServer(a.api, log)
	}

	log.Info("app ready",
		logx.String("config", cfgm.Path()),
		logx.String("storage", a.store.Driver()),
		logx.String("rate_limit", cfg.RateLimitBackend()),
		logx.Int("vocabulary", len(a.extractor.Vocabulary())),
		logx.Bool("dry_run", opts.DryRun),
	)
	return a, nil
}

func buildLimiter(cfg *config.Config, d config.Durations, store *storage.Store) (windowLimiter, func() error, error) {
	switch cfg.RateLimitBackend() {
	case "store":
		return ratelimit.NewShared(store, d.RateLimitWindow), nil, nil
	case "redis":
		rc := cfg.RateLimit.Redis
		r, err := ratelimit.NewRedis(ratelimit.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		}, d.RateLimitWindow)
		if err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
		return r, r.Close, nil
	default:
		return ratelimit.NewMemory(d.RateLimitWindow), nil, nil
	}
}

func (a *App) buildAdapter(cfg *config.Config, d config.Durations, dryRun bool) (transport.Adapter, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if dryRun || token == "" {
		if !dryRun {
			a.log.Warn("telegram token not set; notifications are only logged", logx.String("env", config.EnvTelegramToken))
		}
		return transport.NewLogAdapter(a.log.With(logx.String("comp", "transport"))), nil
	}
	tg, err := telegram.New(telegram.Config{Token: token, PollTimeout: d.PollTimeout}, a.log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a.logs.AttachSender(tg)
	return tg, nil
}

// RunOnce executes a single pipeline run.
func (a *App) RunOnce(ctx context.Context) (domain.RunResult, error) {
	return a.pipe.RunOnce(ctx)
}

func (a *App) runScheduled(ctx context.Context) error {
	_, err := a.pipe.RunOnce(ctx)
	return err
}

// Logger returns the root logger.
func (a *App) Logger() logx.Logger { return a.log }

func (a *App) health() map[string]any {
	out := map[string]any{
		"supervisor":     a.sup.Snapshot(),
		"events_dropped": eventbus.Dropped(a.bus),
	}
	if a.sched != nil {
		out["scheduler"] = a.sched.Snapshot()
	}
	return out
}

// Close releases what New acquired. It is for commands that never call
// Serve; Serve releases everything itself on the way out.
func (a *App) Close() error {
	var errs []error
	if a.closeLimiter != nil {
		errs = append(errs, a.closeLimiter())
		a.closeLimiter = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
		a.logs = nil
	}
	return errors.Join(errs...)
}
