// Package bot turns chat updates into subscription management commands.
package bot

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobwatch/internal/domain"
	"jobwatch/internal/runtime/supervisor"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

type Store interface {
	UpsertRecipient(ctx context.Context, r domain.Recipient) error
	SetRecipientActive(ctx context.Context, id string, active bool) error
	Recipient(ctx context.Context, id string) (domain.Recipient, bool, error)
	Subscribe(ctx context.Context, recipientID string, keyword domain.Keyword) (bool, error)
	Unsubscribe(ctx context.Context, recipientID string, keyword domain.Keyword) (bool, error)
	Subscriptions(ctx context.Context, recipientID string) ([]domain.Subscription, error)
}

type Vocabulary interface {
	Vocabulary() []domain.Keyword
	Contains(kw string) bool
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handle      HandlerFunc
}

type Request struct {
	Update    transport.Update
	Chat      transport.ChatTarget
	Recipient string
	FromID    int64
	Command   string
	Args      []string
	// Payload is the callback data after the action prefix.
	Payload string
	Log     logx.Logger
}

type Config struct {
	// Workers bounds concurrent command handling; zero means NumCPU (min 2).
	Workers int
	// Timeout bounds one command; zero means 15s.
	Timeout time.Duration
}

type Bot struct {
	cfg     Config
	store   Store
	vocab   Vocabulary
	adapter transport.Adapter
	log     logx.Logger

	commands []Command
	index    map[string]*Command
	jobs     chan func()
}

func New(cfg Config, store Store, vocab Vocabulary, adapter transport.Adapter, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU(), 2)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	b := &Bot{
		cfg:     cfg,
		store:   store,
		vocab:   vocab,
		adapter: adapter,
		log:     log.With(logx.String("comp", "bot")),
		index:   map[string]*Command{},
		jobs:    make(chan func(), 256),
	}
	b.commands = b.builtinCommands()
	for i := range b.commands {
		c := &b.commands[i]
		b.index[c.Name] = c
		for _, a := range c.Aliases {
			b.index[a] = c
		}
	}
	return b
}

func (b *Bot) Commands() []Command { return append([]Command(nil), b.commands...) }

// PublishMenu pushes the command list to adapters that support a menu.
func (b *Bot) PublishMenu(ctx context.Context) error {
	up, ok := b.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	menu := make([]transport.BotCommand, 0, len(b.commands))
	for _, c := range b.commands {
		menu = append(menu, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, menu)
}

// Run dispatches updates to a bounded worker pool until ctx is done or
// updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(b.log), supervisor.WithCancelOnError(false))
	for i := 0; i < b.cfg.Workers; i++ {
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-b.jobs:
					job()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	b.log.Info("command dispatcher started", logx.Int("workers", b.cfg.Workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		b.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(ctx, up)
		}
	}
}

func (b *Bot) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		b.routeMessage(ctx, up)
	case transport.UpdateCallback:
		b.routeCallback(ctx, up)
	}
}

func (b *Bot) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := b.index[name]
	if !ok {
		b.reply(ctx, chat, "Unknown command. Try /help")
		return
	}
	req := &Request{
		Update:    up,
		Chat:      chat,
		Recipient: recipientID(chat),
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      fields[1:],
	}
	b.enqueue(ctx, req, cmd.Handle, func() { b.reply(ctx, chat, "Busy, try again in a moment.") })
}

func (b *Bot) routeCallback(ctx context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	if action != "unsub" {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	chat := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := &Request{
		Update:    up,
		Chat:      chat,
		Recipient: recipientID(chat),
		FromID:    cb.FromID,
		Command:   "cb:" + action,
		Payload:   payload,
	}
	b.enqueue(ctx, req, b.handleUnsubCallback, func() { _ = b.adapter.AnswerCallback(ctx, cb.ID, "busy") })
}

func (b *Bot) enqueue(ctx context.Context, req *Request, h HandlerFunc, busy func()) {
	req.Log = b.log.With(
		logx.String("rid", uuid.NewString()[:8]),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h, recoverPanic(), logRequest(), withTimeout(b.cfg.Timeout))
	select {
	case b.jobs <- func() { _ = final(ctx, req) }:
	default:
		busy()
	}
}

func (b *Bot) reply(ctx context.Context, chat transport.ChatTarget, text string) {
	b.send(ctx, chat, text, nil)
}

func (b *Bot) send(ctx context.Context, chat transport.ChatTarget, text string, buttons []transport.Button) {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: buttons}
	if _, err := b.adapter.SendText(ctx, chat, text, opt); err != nil {
		b.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}

// recipientID names the chat, or the forum topic inside it.
func recipientID(chat transport.ChatTarget) string {
	if chat.ThreadID > 0 {
		return fmt.Sprintf("%d:%d", chat.ChatID, chat.ThreadID)
	}
	return transport.RecipientID(chat.ChatID)
}

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func logRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				req.Log.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// Short successful requests stay at debug.
			if d >= 750*time.Millisecond {
				req.Log.Info("request ok", logx.Duration("dur", d))
			} else {
				req.Log.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}
