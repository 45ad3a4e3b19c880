package transport

import (
	"context"
	"sync"
	"sync/atomic"

	logx "jobwatch/pkg/logx"
)

// LogAdapter writes outgoing messages to the log instead of a chat network.
// It backs dry runs and local development without a bot token.
type LogAdapter struct {
	log  logx.Logger
	next atomic.Int64

	mu   sync.Mutex
	sent []SentMessage
}

type SentMessage struct {
	To      ChatTarget
	Text    string
	Buttons []Button
	// Edit is set when the message replaced an earlier one.
	Edit int
}

func NewLogAdapter(log logx.Logger) *LogAdapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogAdapter{log: log}
}

func (a *LogAdapter) Start(ctx context.Context, out chan<- Update) error { return nil }
func (a *LogAdapter) Stop(ctx context.Context) error                    { return nil }

func (a *LogAdapter) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	msg := SentMessage{To: to, Text: text}
	if opt != nil {
		msg.Buttons = append([]Button(nil), opt.Buttons...)
	}
	a.mu.Lock()
	a.sent = append(a.sent, msg)
	a.mu.Unlock()
	a.log.Info("message (dry run)", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID), logx.String("text", text))
	return MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int(a.next.Add(1))}, nil
}

func (a *LogAdapter) EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error {
	msg := SentMessage{To: ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, Text: text, Edit: ref.MessageID}
	if opt != nil {
		msg.Buttons = append([]Button(nil), opt.Buttons...)
	}
	a.mu.Lock()
	a.sent = append(a.sent, msg)
	a.mu.Unlock()
	a.log.Info("edit (dry run)", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.String("text", text))
	return nil
}

func (a *LogAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

// Sent returns a copy of every message sent so far.
func (a *LogAdapter) Sent() []SentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SentMessage(nil), a.sent...)
}
