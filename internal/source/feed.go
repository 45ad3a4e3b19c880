package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"jobwatch/internal/domain"
)

const (
	defaultUserAgent = "jobwatch/1.0 (+https://github.com/jobwatch)"
	defaultTimeout   = 30 * time.Second
	maxFeedBytes     = 10 << 20
)

type FeedConfig struct {
	URL string
	// Origin labels every posting from this feed. Empty means the item
	// author, then the feed title.
	Origin    string
	Timeout   time.Duration
	UserAgent string
	// MaxBytes caps the response body; zero means 10 MiB.
	MaxBytes int64
}

// ErrFeedTooLarge reports a body over FeedConfig.MaxBytes.
var ErrFeedTooLarge = errors.New("feed too large")

// Feed reads an RSS, Atom or JSON feed over HTTP.
type Feed struct {
	cfg    FeedConfig
	client *http.Client
	parser *gofeed.Parser
}

func NewFeed(cfg FeedConfig, client *http.Client) *Feed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = maxFeedBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Feed{cfg: cfg, client: client, parser: gofeed.NewParser()}
}

func (f *Feed) Name() string { return f.cfg.URL }

func (f *Feed) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}
	feed, err := f.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	out := make([]domain.RawPosting, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		out = append(out, f.toRaw(feed, item))
	}
	return out, nil
}

func (f *Feed) download(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	// One byte past the cap tells an oversized body from one that fits exactly.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFeedTooLarge, f.cfg.MaxBytes)
	}
	return data, nil
}

func (f *Feed) toRaw(feed *gofeed.Feed, item *gofeed.Item) domain.RawPosting {
	raw := domain.RawPosting{
		Title:  strings.TrimSpace(item.Title),
		Body:   htmlText(coalesce(item.Content, item.Description)),
		URL:    strings.TrimSpace(coalesce(item.Link, item.GUID)),
		Origin: f.cfg.Origin,
	}
	if raw.Origin == "" {
		if item.Author != nil {
			raw.Origin = strings.TrimSpace(item.Author.Name)
		}
		if raw.Origin == "" {
			raw.Origin = strings.TrimSpace(feed.Title)
		}
	}
	switch {
	case item.PublishedParsed != nil:
		raw.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		raw.PublishedAt = item.UpdatedParsed.UTC()
	}
	return raw
}

// htmlText flattens an HTML fragment to its text so markup and attribute
// values cannot produce keyword hits.
func htmlText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()

	// Text nodes are joined with spaces so adjacent blocks do not fuse.
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
