package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
)

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Remote Jobs</title>
    <link>https://jobs.example</link>
    <item>
      <title>Python Backend Engineer</title>
      <link>https://jobs.example/1</link>
      <description><![CDATA[<p>We use <b>Django</b> &amp; Postgres.</p><a href="https://x.example/rust">apply</a>]]></description>
      <pubDate>Wed, 01 May 2024 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Go Developer</title>
      <link>https://jobs.example/2</link>
      <author>hr@acme.example (Acme)</author>
      <description>Plain text body</description>
    </item>
  </channel>
</rss>`

func TestFeedFetch(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	f := NewFeed(FeedConfig{URL: srv.URL, UserAgent: "jobwatch-test"}, srv.Client())
	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "jobwatch-test", ua.Load())

	first := items[0]
	assert.Equal(t, "Python Backend Engineer", first.Title)
	assert.Equal(t, "https://jobs.example/1", first.URL)
	assert.Equal(t, "Remote Jobs", first.Origin)
	assert.Equal(t, "We use Django & Postgres. apply", first.Body)
	assert.NotContains(t, first.Body, "rust")
	assert.True(t, first.PublishedAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))

	second := items[1]
	assert.Equal(t, "Plain text body", second.Body)
	assert.True(t, second.PublishedAt.IsZero())
}

func TestFeedConfiguredOriginWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	items, err := NewFeed(FeedConfig{URL: srv.URL, Origin: "Board"}, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, "Board", it.Origin)
	}
}

func TestFeedFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			_, _ = w.Write([]byte("not a feed"))
			return
		}
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFeed(FeedConfig{URL: srv.URL + "/down"}, srv.Client()).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")

	_, err = NewFeed(FeedConfig{URL: srv.URL + "/broken"}, srv.Client()).Fetch(context.Background())
	require.Error(t, err)
}

func TestFeedRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	limit := int64(len(rssFixture))
	_, err := NewFeed(FeedConfig{URL: srv.URL, MaxBytes: limit - 1}, srv.Client()).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeedTooLarge), err)

	items, err := NewFeed(FeedConfig{URL: srv.URL, MaxBytes: limit}, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFeedTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	f := NewFeed(FeedConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
}

func TestStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "postings.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write(`postings:
  - title: Python Backend Engineer
    body: Django and Postgres
    origin: Acme
    url: https://jobs.example/1
`)
	s := NewStaticFile(path)
	items, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Acme", items[0].Origin)
	assert.Equal(t, "static:"+path, s.Name())

	// Re-read on every fetch.
	write(`postings: []`)
	items, err = s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)

	write(`postings: [`)
	_, err = s.Fetch(context.Background())
	require.Error(t, err)
}

func TestStaticInMemoryIsolation(t *testing.T) {
	s := NewStatic(domain.RawPosting{Title: "a", URL: "https://x/1"})
	items, err := s.Fetch(context.Background())
	require.NoError(t, err)
	items[0].Title = "mutated"

	again, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Title)
}

type failing struct{ err error }

func (f failing) Name() string { return "failing" }
func (f failing) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	return nil, f.err
}

type slow struct{ started chan struct{} }

func (s slow) Name() string { return "slow" }
func (s slow) Fetch(ctx context.Context) ([]domain.RawPosting, error) {
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMultiConcatenatesInOrder(t *testing.T) {
	m := NewMulti(
		NewStatic(domain.RawPosting{URL: "https://a/1"}, domain.RawPosting{URL: "https://a/2"}),
		nil,
		NewStatic(domain.RawPosting{URL: "https://b/1"}),
	)
	assert.Equal(t, 2, m.Len())

	items, err := m.Fetch(context.Background())
	require.NoError(t, err)
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	assert.Equal(t, []string{"https://a/1", "https://a/2", "https://b/1"}, urls)
}

func TestMultiAllOrNothing(t *testing.T) {
	boom := errors.New("boom")
	s := slow{started: make(chan struct{})}
	m := NewMulti(
		NewStatic(domain.RawPosting{URL: "https://a/1"}),
		s,
		failing{err: boom},
	)

	items, err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Nil(t, items)
	assert.ErrorIs(t, err, domain.ErrSourceFetch)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
}

func TestMultiEmpty(t *testing.T) {
	items, err := NewMulti().Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}
