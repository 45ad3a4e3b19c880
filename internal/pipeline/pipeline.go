// Package pipeline is the dispatch orchestrator: one RunOnce fetches a batch,
// ingests new postings, matches them against subscriptions and notifies
// subscribers under the rate limit.
//
// Overlapping runs are safe without any run-level lock. The store's unique
// URL constraint decides which run owns a posting, and the limiter's atomic
// acquire decides which candidate notification is delivered.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/message"
	"jobwatch/internal/ratelimit"
	logx "jobwatch/pkg/logx"
)

// Source yields the current batch of raw postings.
type Source interface {
	Fetch(ctx context.Context) ([]domain.RawPosting, error)
}

// PostingStore dedupes postings by URL and keeps their keywords.
type PostingStore interface {
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, p domain.Posting) (int64, error)
	RecordKeywords(ctx context.Context, postingID int64, keywords []domain.Keyword) error
}

// SubscriptionIndex resolves keywords to subscribed recipients.
type SubscriptionIndex interface {
	MatchingRecipients(ctx context.Context, keywords []domain.Keyword) ([]domain.Match, error)
}

// NotificationLog records delivered notifications.
type NotificationLog interface {
	AppendNotification(ctx context.Context, rec domain.NotificationRecord) error
}

// Matcher extracts vocabulary keywords from posting text.
type Matcher interface {
	Extract(text string) []domain.Keyword
}

// Sender delivers one notification text to a recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, text string) error
}

type Config struct {
	// Workers bounds how many postings are processed at once.
	Workers int
	// RunTimeout bounds a whole run; zero means no deadline.
	RunTimeout time.Duration
	Scope      ratelimit.Scope
}

// Deps are the collaborators a run drives. Bus and Log are optional.
type Deps struct {
	Source        Source
	Postings      PostingStore
	Subscriptions SubscriptionIndex
	Notifications NotificationLog
	Matcher       Matcher
	Limiter       ratelimit.Limiter
	Sender        Sender
	Bus           eventbus.Bus
	Log           logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is safe for concurrent RunOnce calls.
type Orchestrator struct {
	mu   sync.RWMutex
	cfg  Config
	deps Deps
}

func New(cfg Config, d Deps) *Orchestrator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{cfg: withDefaults(cfg), deps: d}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Scope == "" {
		cfg.Scope = ratelimit.ScopeRecipient
	}
	return cfg
}

// Apply swaps tunables for subsequent runs; a run in flight keeps its own.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = withDefaults(cfg)
	o.mu.Unlock()
}

// SetSource replaces the posting source for subsequent runs.
func (o *Orchestrator) SetSource(src Source) {
	o.mu.Lock()
	o.deps.Source = src
	o.mu.Unlock()
}

// outcome is what one posting contributed to a run.
type outcome struct {
	new        bool
	failed     bool
	sent       int
	suppressed int
	sendFailed int
}

// RunOnce processes one batch.
//
// Only a source failure (domain.ErrSourceFetch) fails the run before any
// posting is touched. Conflicts are absorbed, and per-posting persistence
// and per-recipient transport failures are logged and counted in the result.
// If the run deadline or ctx ends mid-batch the partial result is returned
// with the context error.
func (o *Orchestrator) RunOnce(ctx context.Context) (domain.RunResult, error) {
	o.mu.RLock()
	cfg, d := o.cfg, o.deps
	o.mu.RUnlock()

	res := domain.RunResult{RunID: uuid.NewString()}
	log := d.Log.With(logx.String("comp", "pipeline"), logx.String("run_id", res.RunID))
	start := time.Now()
	eventbus.Publish(d.Bus, eventbus.RunStarted, RunEvent{RunID: res.RunID})

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	finish := func(err error) (domain.RunResult, error) {
		res.Took = time.Since(start)
		ev := RunEvent{RunID: res.RunID, Result: &res}
		if err != nil {
			ev.Error = err.Error()
		}
		eventbus.Publish(d.Bus, eventbus.RunFinished, ev)
		return res, err
	}

	if d.Source == nil {
		return finish(domain.Wrap(domain.ErrSourceFetch, "fetch", errors.New("no source configured")))
	}
	raws, err := d.Source.Fetch(ctx)
	if err != nil {
		err = domain.Wrap(domain.ErrSourceFetch, "fetch", err)
		log.Error("source fetch failed", logx.Err(err))
		return finish(err)
	}
	res.PostingsSeen = len(raws)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan domain.RawPosting)
	)
	workers := min(cfg.Workers, len(raws))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				out := o.process(ctx, cfg, d, log, raw)
				mu.Lock()
				if out.new {
					res.PostingsNew++
				}
				if out.failed {
					res.Failed++
				}
				res.Sent += out.sent
				res.Suppressed += out.suppressed
				res.SendFailed += out.sendFailed
				mu.Unlock()
			}
		}()
	}
	for _, raw := range raws {
		jobs <- raw
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn("run cut short", logx.Err(err), logx.Int("seen", res.PostingsSeen), logx.Int("new", res.PostingsNew))
		return finish(err)
	}
	log.Info("run finished",
		logx.Int("seen", res.PostingsSeen),
		logx.Int("new", res.PostingsNew),
		logx.Int("sent", res.Sent),
		logx.Int("suppressed", res.Suppressed),
		logx.Int("send_failed", res.SendFailed),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	)
	return finish(nil)
}

// RunEvent is the payload of pipeline.run.* bus events.
type RunEvent struct {
	RunID  string            `json:"run_id"`
	Result *domain.RunResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func (o *Orchestrator) process(ctx context.Context, cfg Config, d Deps, log logx.Logger, raw domain.RawPosting) outcome {
	var out outcome

	url, ok := NormalizeURL(raw.URL)
	if !ok {
		log.Debug("posting skipped: bad url", logx.String("url", raw.URL), logx.String("title", raw.Title))
		return out
	}
	plog := log.With(logx.String("url", url))

	exists, err := d.Postings.Exists(ctx, url)
	if err != nil {
		plog.Error("posting lookup failed", logx.Err(err))
		out.failed = true
		return out
	}
	if exists {
		return out
	}

	p := domain.Posting{
		URL:         url,
		Title:       strings.TrimSpace(raw.Title),
		Body:        strings.TrimSpace(raw.Body),
		Origin:      strings.TrimSpace(raw.Origin),
		PublishedAt: raw.PublishedAt,
		IngestedAt:  d.Now(),
	}
	p.ID, err = d.Postings.Insert(ctx, p)
	if errors.Is(err, domain.ErrConflict) {
		// Another run won the insert; it owns notification for this posting.
		plog.Debug("posting taken by concurrent run")
		return out
	}
	if err != nil {
		plog.Error("posting insert failed", logx.Err(err))
		out.failed = true
		return out
	}

	p.Keywords = d.Matcher.Extract(p.Title + "\n" + p.Body)
	if err := d.Postings.RecordKeywords(ctx, p.ID, p.Keywords); err != nil {
		plog.Error("keyword association failed", logx.Err(err))
		out.failed = true
		return out
	}
	out.new = true
	if len(p.Keywords) == 0 {
		return out
	}

	matches, err := d.Subscriptions.MatchingRecipients(ctx, p.Keywords)
	if err != nil {
		plog.Error("subscription lookup failed", logx.Err(err))
		out.failed = true
		return out
	}
	for _, m := range matches {
		o.notify(ctx, cfg, d, plog, p, m, &out)
	}
	return out
}

func (o *Orchestrator) notify(ctx context.Context, cfg Config, d Deps, log logx.Logger, p domain.Posting, m domain.Match, out *outcome) {
	mlog := log.With(logx.String("recipient", m.RecipientID), logx.String("keyword", m.Keyword))

	// One instant for both the acquire and the record, so records for a key
	// are never closer together than the window even when a send is slow.
	now := d.Now()
	ok, err := d.Limiter.TryAcquire(ctx, cfg.Scope.Key(m), now)
	if err != nil {
		// Fail closed: an unknown window state must not turn into a burst.
		mlog.Warn("rate limit check failed", logx.Err(err))
		out.suppressed++
		return
	}
	if !ok {
		mlog.Debug("notification suppressed by rate limit")
		out.suppressed++
		return
	}

	// The window stays consumed when the send fails.
	if err := d.Sender.Send(ctx, m.RecipientID, message.Notification(m.Keyword, p)); err != nil {
		mlog.Warn("notification send failed", logx.Err(err))
		out.sendFailed++
		return
	}
	out.sent++

	rec := domain.NotificationRecord{
		RecipientID: m.RecipientID,
		PostingID:   p.ID,
		PostingURL:  p.URL,
		Keyword:     m.Keyword,
		SentAt:      now,
	}
	if err := d.Notifications.AppendNotification(ctx, rec); err != nil {
		mlog.Error("notification record failed", logx.Err(domain.Wrap(domain.ErrPersistence, "append notification", err)))
	}
}
