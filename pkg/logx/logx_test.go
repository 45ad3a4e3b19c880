package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(String("k", "v")).IsZero() {
		t.Fatal("With should produce a non-zero logger")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","message":"send failed","recipient":"42","comp":"pipeline","time":"x"}`))
	want := "[WARN] send failed\n- comp=pipeline\n- recipient=42"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}

	raw := formatChatLine([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("non-JSON line = %q", raw)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type captureSender struct {
	mu    sync.Mutex
	msgs  []string
	chats []int64
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.chats = append(c.chats, chatID)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: 99, MinLevel: "warn", RatePerSec: 100},
	})
	defer svc.Close()

	sender := &captureSender{}
	svc.AttachSender(sender)

	log.Info("not forwarded")
	log.Warn("forwarded", String("comp", "test"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("forwarded %d lines, want 1: %v", len(sender.msgs), sender.msgs)
	}
	if !strings.HasPrefix(sender.msgs[0], "[WARN] forwarded") {
		t.Fatalf("unexpected chat line %q", sender.msgs[0])
	}
	if sender.chats[0] != 99 {
		t.Fatalf("chat id = %d, want 99", sender.chats[0])
	}
}
