package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"jobwatch/internal/app"
)

type globalOptions struct {
	Config  string `short:"c" long:"config" env:"JOBWATCH_CONFIG" default:"./config.yaml" description:"path to the YAML or JSON config"`
	EnvFile string `long:"env-file" env:"JOBWATCH_ENV_FILE" default:".env" description:"dotenv file loaded before the config (ignored when missing)"`
}

var opts globalOptions

type serveCommand struct{}

type onceCommand struct {
	DryRun bool `long:"dry-run" description:"log notifications instead of sending them"`
}

type migrateCommand struct{}

type subscribeCommand struct {
	Recipient string   `short:"r" long:"recipient" required:"true" description:"chat id, or chat:thread for a forum topic"`
	Keywords  []string `short:"k" long:"keyword" required:"true" description:"keyword to follow (repeatable, comma separated allowed)"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if err := loadEnv(opts.EnvFile); err != nil {
			return err
		}
		return cmd.Execute(args)
	}
	mustAdd(parser.AddCommand("serve", "Run the bot, scheduler and HTTP API",
		"Runs until SIGINT or SIGTERM. Config changes are applied without a restart where possible.", &serveCommand{}))
	mustAdd(parser.AddCommand("once", "Run the pipeline once and exit",
		"Fetches, dedupes, matches and notifies a single time.", &onceCommand{}))
	mustAdd(parser.AddCommand("migrate", "Apply database migrations",
		"Applies pending schema migrations and prints the resulting version.", &migrateCommand{}))
	mustAdd(parser.AddCommand("subscribe", "Seed keyword subscriptions",
		"Subscribes a recipient to vocabulary keywords without going through the bot.", &subscribeCommand{}))

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		// flags.Default already printed err.
		os.Exit(1)
	}
}

func mustAdd(_ *flags.Command, err error) {
	if err != nil {
		panic(err)
	}
}

// loadEnv reads a dotenv file without overriding variables already set.
func loadEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *serveCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, app.Options{ConfigPath: opts.Config})
	if err != nil {
		return err
	}
	return a.Serve(ctx)
}

func (c *onceCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, app.Options{ConfigPath: opts.Config, DryRun: c.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.RunOnce(ctx)
	fmt.Printf("run %s: seen=%d new=%d sent=%d suppressed=%d send_failed=%d failed=%d took=%s\n",
		res.RunID, res.PostingsSeen, res.PostingsNew, res.Sent, res.Suppressed, res.SendFailed, res.Failed, res.Took)
	return err
}

func (c *migrateCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	v, err := app.Migrate(ctx, app.Options{ConfigPath: opts.Config})
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", v)
	return nil
}

func (c *subscribeCommand) Execute([]string) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, err := app.Subscribe(ctx, app.Options{ConfigPath: opts.Config}, c.Recipient, c.Keywords)
	if err != nil {
		return err
	}
	if len(res.Added) > 0 {
		fmt.Println("subscribed:", strings.Join(res.Added, ", "))
	}
	if len(res.Existing) > 0 {
		fmt.Println("already subscribed:", strings.Join(res.Existing, ", "))
	}
	if len(res.Unknown) > 0 {
		fmt.Println("not in the vocabulary:", strings.Join(res.Unknown, ", "))
	}
	return nil
}
