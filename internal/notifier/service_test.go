package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

type flakyAdapter struct {
	*transport.LogAdapter
	fail  map[int64]error
	opts  []*transport.SendOptions
	delay time.Duration
}

func (f *flakyAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.opts = append(f.opts, opt)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	if err := f.fail[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	return f.LogAdapter.SendText(ctx, to, text, opt)
}

func newFlaky() *flakyAdapter {
	return &flakyAdapter{LogAdapter: transport.NewLogAdapter(logx.Nop()), fail: map[int64]error{}}
}

func TestSendDeliversHTMLWithoutPreview(t *testing.T) {
	t.Parallel()
	ad := newFlaky()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, ad, logx.Nop(), bus)
	if err := s.Send(context.Background(), "42:7", "<b>hi</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := ad.Sent()
	if len(sent) != 1 || sent[0].To != (transport.ChatTarget{ChatID: 42, ThreadID: 7}) {
		t.Fatalf("sent = %+v", sent)
	}
	if o := ad.opts[0]; o.ParseMode != "HTML" || !o.DisablePreview {
		t.Fatalf("options = %+v", o)
	}
	e := <-events
	if e.Type != eventbus.NotifierSent {
		t.Fatalf("event = %q", e.Type)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Recipient != "42:7" || h[0].Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendFailureIsTransportError(t *testing.T) {
	t.Parallel()
	ad := newFlaky()
	blocked := errors.New("bot was blocked by the user")
	ad.fail[7] = blocked
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, ad, logx.Nop(), bus)
	err := s.Send(context.Background(), "7", "x")
	if !errors.Is(err, domain.ErrTransport) || !errors.Is(err, blocked) {
		t.Fatalf("Send = %v, want transport error wrapping cause", err)
	}
	if e := <-events; e.Type != eventbus.NotifierFailed {
		t.Fatalf("event = %q", e.Type)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendRejectsBadRecipient(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFlaky(), logx.Nop(), nil)
	for _, r := range []string{"", "alice", "0", "42:x"} {
		if err := s.Send(context.Background(), r, "x"); !errors.Is(err, domain.ErrTransport) {
			t.Fatalf("Send(%q) = %v, want transport error", r, err)
		}
	}
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()
	ad := newFlaky()
	ad.delay = time.Second
	s := New(Config{SendTimeout: 20 * time.Millisecond}, ad, logx.Nop(), nil)

	start := time.Now()
	err := s.Send(context.Background(), "42", "x")
	if !errors.Is(err, domain.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("send timeout not honored")
	}
}

func TestSendWithoutAdapter(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if err := s.Send(context.Background(), "42", "x"); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("Send = %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{HistorySize: 2, RatePerSec: 1000}, newFlaky(), logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		if err := s.Send(context.Background(), "42", "x"); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.Snapshot()); n != 2 {
		t.Fatalf("history len = %d, want 2", n)
	}
}
