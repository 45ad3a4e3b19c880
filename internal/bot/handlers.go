package bot

import (
	"context"
	"fmt"
	"strings"

	"jobwatch/internal/domain"
	"jobwatch/internal/keyword"
	"jobwatch/internal/message"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

func (b *Bot) builtinCommands() []Command {
	return []Command{
		{Name: "start", Description: "Register and start receiving job alerts", Usage: "/start", Handle: b.handleStart},
		{Name: "help", Aliases: []string{"h"}, Description: "Show available commands", Usage: "/help", Handle: b.handleHelp},
		{Name: "status", Description: "Show your subscriptions", Usage: "/status", Handle: b.handleStatus},
		{Name: "subscribe", Aliases: []string{"sub"}, Description: "Subscribe to keywords", Usage: "/subscribe python, docker", Handle: b.handleSubscribe},
		{Name: "unsubscribe", Aliases: []string{"unsub"}, Description: "Remove keyword subscriptions", Usage: "/unsubscribe python", Handle: b.handleUnsubscribe},
		{Name: "keywords", Description: "List the keywords you can subscribe to", Usage: "/keywords", Handle: b.handleKeywords},
		{Name: "stop", Description: "Pause all job alerts", Usage: "/stop", Handle: b.handleStop},
	}
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	r := domain.Recipient{ID: req.Recipient}
	if m := req.Update.Message; m != nil {
		r.Username = m.FromUsername
		r.FirstName = m.FromFirstName
	}
	if err := b.store.UpsertRecipient(ctx, r); err != nil {
		b.reply(ctx, req.Chat, "Could not register you right now, please try again later.")
		return domain.Wrap(domain.ErrPersistence, "upsert recipient", err)
	}

	name := r.FirstName
	if name == "" {
		name = "there"
	}
	lines := []message.H{
		message.Esc("👋 Hi " + name + "!"),
		message.Esc("I send you new job postings that mention the keywords you follow."),
		message.JoinH(" ", message.Esc("Start with"), message.Code("/subscribe python"), message.Esc("or browse"), message.Code("/keywords")),
	}
	b.reply(ctx, req.Chat, string(message.JoinH("\n", lines...)))
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	lines := []message.H{message.B("Commands")}
	for _, c := range b.commands {
		lines = append(lines, message.JoinH(" ", message.Code(c.Usage), message.Esc("- "+c.Description)))
	}
	b.reply(ctx, req.Chat, string(message.JoinH("\n", lines...)))
	return nil
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	text, buttons, err := b.statusView(ctx, req.Recipient)
	if err != nil {
		b.reply(ctx, req.Chat, "Could not load your subscriptions, please try again later.")
		return err
	}
	b.send(ctx, req.Chat, text, buttons)
	return nil
}

func (b *Bot) statusView(ctx context.Context, recipient string) (string, []transport.Button, error) {
	subs, err := b.store.Subscriptions(ctx, recipient)
	if err != nil {
		return "", nil, domain.Wrap(domain.ErrPersistence, "list subscriptions", err)
	}
	r, registered, err := b.store.Recipient(ctx, recipient)
	if err != nil {
		return "", nil, domain.Wrap(domain.ErrPersistence, "load recipient", err)
	}

	var lines []message.H
	if registered && !r.Active {
		lines = append(lines, message.Esc("⏸ Alerts are paused. Send /start to resume."))
	}
	if len(subs) == 0 {
		lines = append(lines, message.Esc("You have no subscriptions yet. Try /subscribe python"))
		return string(message.JoinH("\n", lines...)), nil, nil
	}

	lines = append(lines, message.B(fmt.Sprintf("Subscribed to %d keyword(s):", len(subs))))
	buttons := make([]transport.Button, 0, len(subs))
	for _, s := range subs {
		lines = append(lines, message.JoinH(" ", message.Esc("•"), message.Code(s.Keyword)))
		buttons = append(buttons, transport.Button{Text: "❌ " + s.Keyword, Data: "unsub:" + s.Keyword})
	}
	return string(message.JoinH("\n", lines...)), buttons, nil
}

func (b *Bot) handleSubscribe(ctx context.Context, req *Request) error {
	terms := keyword.ParseTerms(req.Args)
	if len(terms) == 0 {
		b.reply(ctx, req.Chat, string(message.JoinH(" ", message.Esc("Usage:"), message.Code("/subscribe python, docker"))))
		return nil
	}

	var added, existing, unknown []string
	for _, kw := range terms {
		if !b.vocab.Contains(kw) {
			unknown = append(unknown, kw)
			continue
		}
		ok, err := b.store.Subscribe(ctx, req.Recipient, kw)
		if err != nil {
			b.reply(ctx, req.Chat, "Could not save your subscription, please try again later.")
			return domain.Wrap(domain.ErrPersistence, "subscribe", err)
		}
		if ok {
			added = append(added, kw)
		} else {
			existing = append(existing, kw)
		}
	}
	req.Log.Info("subscribe", logx.Strings("added", added), logx.Strings("unknown", unknown))

	var lines []message.H
	if len(added) > 0 {
		lines = append(lines, termLine("✅ Subscribed:", added))
	}
	if len(existing) > 0 {
		lines = append(lines, termLine("ℹ️ Already subscribed:", existing))
	}
	if len(unknown) > 0 {
		lines = append(lines, termLine("⚠️ Not in the keyword list:", unknown), message.Esc("See /keywords for what you can follow."))
	}
	b.reply(ctx, req.Chat, string(message.JoinH("\n", lines...)))
	return nil
}

func (b *Bot) handleUnsubscribe(ctx context.Context, req *Request) error {
	terms := keyword.ParseTerms(req.Args)
	if len(terms) == 0 {
		b.reply(ctx, req.Chat, string(message.JoinH(" ", message.Esc("Usage:"), message.Code("/unsubscribe python"))))
		return nil
	}
	var removed, missing []string
	for _, kw := range terms {
		ok, err := b.store.Unsubscribe(ctx, req.Recipient, kw)
		if err != nil {
			b.reply(ctx, req.Chat, "Could not update your subscriptions, please try again later.")
			return domain.Wrap(domain.ErrPersistence, "unsubscribe", err)
		}
		if ok {
			removed = append(removed, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	var lines []message.H
	if len(removed) > 0 {
		lines = append(lines, termLine("🗑 Unsubscribed:", removed))
	}
	if len(missing) > 0 {
		lines = append(lines, termLine("ℹ️ Not subscribed:", missing))
	}
	b.reply(ctx, req.Chat, string(message.JoinH("\n", lines...)))
	return nil
}

func (b *Bot) handleKeywords(ctx context.Context, req *Request) error {
	vocab := b.vocab.Vocabulary()
	codes := make([]message.H, 0, len(vocab))
	for _, kw := range vocab {
		codes = append(codes, message.Code(kw))
	}
	text := message.JoinH("\n", message.B(fmt.Sprintf("%d keywords available:", len(vocab))), message.JoinH(", ", codes...))
	b.reply(ctx, req.Chat, string(text))
	return nil
}

func (b *Bot) handleStop(ctx context.Context, req *Request) error {
	if err := b.store.SetRecipientActive(ctx, req.Recipient, false); err != nil {
		b.reply(ctx, req.Chat, "Could not pause your alerts, please try again later.")
		return domain.Wrap(domain.ErrPersistence, "deactivate recipient", err)
	}
	b.reply(ctx, req.Chat, "⏸ Alerts paused. Your subscriptions are kept; send /start to resume.")
	return nil
}

// handleUnsubCallback serves the inline button under /status and refreshes
// the status message in place.
func (b *Bot) handleUnsubCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	kw := keyword.Fold(strings.TrimSpace(req.Payload))
	if kw == "" {
		return b.adapter.AnswerCallback(ctx, cb.ID, "")
	}
	if _, err := b.store.Unsubscribe(ctx, req.Recipient, kw); err != nil {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "failed, try again")
		return domain.Wrap(domain.ErrPersistence, "unsubscribe", err)
	}
	_ = b.adapter.AnswerCallback(ctx, cb.ID, "Unsubscribed from "+kw)

	text, buttons, err := b.statusView(ctx, req.Recipient)
	if err != nil {
		return err
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return b.adapter.EditText(ctx, ref, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: buttons})
}

func termLine(label string, terms []string) message.H {
	codes := make([]message.H, 0, len(terms))
	for _, t := range terms {
		codes = append(codes, message.Code(t))
	}
	return message.JoinH(" ", message.Esc(label), message.JoinH(", ", codes...))
}
