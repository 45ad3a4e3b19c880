package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/message"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier has no transport")

const historyText = 120

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		// Burst equals the per-second rate so short spikes are not serialized.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Send delivers one HTML notification. Every failure, including a bad
// recipient id, is reported as domain.ErrTransport.
func (s *Service) Send(ctx context.Context, recipient string, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	s.mu.Unlock()

	op := "send to " + recipient
	if ad == nil {
		return domain.Wrap(domain.ErrTransport, op, ErrNoAdapter)
	}
	to, err := transport.RecipientTarget(recipient)
	if err != nil {
		return domain.Wrap(domain.ErrTransport, op, err)
	}
	if err := lim.Wait(ctx); err != nil {
		return domain.Wrap(domain.ErrTransport, op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	_, err = ad.SendText(callCtx, to, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	cancel()

	now := time.Now()
	ev := Event{Recipient: recipient, ChatID: to.ChatID, ThreadID: to.ThreadID, At: now}
	if err != nil {
		ev.Error = err.Error()
		s.appendHistory(HistoryItem{At: now, Recipient: recipient, Text: message.Truncate(text, historyText), Error: ev.Error}, cfg.HistorySize)
		eventbus.Publish(s.bus, eventbus.NotifierFailed, ev)
		s.log.Debug("notify send failed", logx.String("recipient", recipient), logx.Err(err))
		return domain.Wrap(domain.ErrTransport, op, err)
	}
	s.appendHistory(HistoryItem{At: now, Recipient: recipient, Text: message.Truncate(text, historyText)}, cfg.HistorySize)
	eventbus.Publish(s.bus, eventbus.NotifierSent, ev)
	return nil
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
