package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	IsGroup       bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a single inline button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are rendered one per row.
	Buttons []Button
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// RecipientTarget maps an opaque recipient id to a chat target.
// Recipient ids are decimal chat ids, optionally suffixed with ":<thread>".
func RecipientTarget(recipient string) (ChatTarget, error) {
	s := strings.TrimSpace(recipient)
	chat, thread, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, fmt.Errorf("invalid recipient %q", recipient)
	}
	t := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(thread)
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid recipient thread %q", recipient)
		}
		t.ThreadID = tid
	}
	return t, nil
}

// RecipientID is the inverse of RecipientTarget for private chats.
func RecipientID(chatID int64) string { return strconv.FormatInt(chatID, 10) }
