package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "jobwatch/pkg/logx"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Publish(b, RunStarted, "r1")
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != RunStarted || e.Data != "r1" || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: NotifierSent})
	}
	if got := Dropped(b); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeConcurrentWithPublish(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() { defer wg.Done(); b.Publish(Event{Type: NotifierFailed}) }()
		go func() { defer wg.Done(); unsub(); unsub() }()
	}
	wg.Wait()
}

func TestNilBusPublish(t *testing.T) {
	t.Parallel()
	Publish(nil, RunFinished, nil)
}

func TestLogEventsStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		LogEvents(ctx, b, logx.Nop())
		close(done)
	}()
	b.Publish(Event{Type: RunStarted})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LogEvents did not return")
	}
}
