package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
	logx "jobwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "jobwatch.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInsertAndExists(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ok, err := st.Exists(ctx, "https://jobs.example/1")
	require.NoError(t, err)
	assert.False(t, ok)

	published := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := st.Insert(ctx, domain.Posting{
		URL: "https://jobs.example/1", Title: "Python Backend Engineer", Origin: "Acme", PublishedAt: published,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	ok, err = st.Exists(ctx, "https://jobs.example/1")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := st.PostingByURL(ctx, "https://jobs.example/1")
	require.NoError(t, err)
	assert.Equal(t, "Python Backend Engineer", p.Title)
	assert.True(t, p.PublishedAt.Equal(published))
	assert.False(t, p.IngestedAt.IsZero())
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, domain.Posting{URL: "u1", Title: "first"})
	require.NoError(t, err)

	_, err = st.Insert(ctx, domain.Posting{URL: "u1", Title: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.False(t, errors.Is(err, domain.ErrPersistence))

	n, err := st.CountPostings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentInsertSingleWinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Insert(ctx, domain.Posting{URL: "race"})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestRecordKeywordsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, domain.Posting{URL: "u1"})
	require.NoError(t, err)

	require.NoError(t, st.RecordKeywords(ctx, id, []string{"python", "aws"}))
	require.NoError(t, st.RecordKeywords(ctx, id, []string{"python"}))
	require.NoError(t, st.RecordKeywords(ctx, id, nil))

	kws, err := st.Keywords(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"aws", "python"}, kws)
}

func TestMatchingRecipients(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, sub := range []struct{ r, kw string }{
		{"42", "python"}, {"42", "aws"}, {"7", "python"}, {"9", "react"}, {"13", "python"},
	} {
		created, err := st.Subscribe(ctx, sub.r, sub.kw)
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := st.Subscribe(ctx, "42", "python")
	require.NoError(t, err)
	assert.False(t, created, "duplicate subscription must be a no-op")

	require.NoError(t, st.SetRecipientActive(ctx, "13", false))

	got, err := st.MatchingRecipients(ctx, []string{"python", "aws"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Match{
		{RecipientID: "42", Keyword: "aws"},
		{RecipientID: "42", Keyword: "python"},
		{RecipientID: "7", Keyword: "python"},
	}, got)

	none, err := st.MatchingRecipients(ctx, []string{"cobol"})
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := st.MatchingRecipients(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubscriptionsAndRecipients(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecipient(ctx, domain.Recipient{ID: "42", Username: "ada", FirstName: "Ada"}))
	r, ok, err := st.Recipient(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada", r.Username)
	assert.True(t, r.Active)

	require.NoError(t, st.SetRecipientActive(ctx, "42", false))
	r, _, err = st.Recipient(ctx, "42")
	require.NoError(t, err)
	assert.False(t, r.Active)

	// /start again re-activates.
	require.NoError(t, st.UpsertRecipient(ctx, domain.Recipient{ID: "42", Username: "ada"}))
	r, _, err = st.Recipient(ctx, "42")
	require.NoError(t, err)
	assert.True(t, r.Active)

	_, err = st.Subscribe(ctx, "42", "vue")
	require.NoError(t, err)
	_, err = st.Subscribe(ctx, "42", "go")
	require.NoError(t, err)

	subs, err := st.Subscriptions(ctx, "42")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "go", subs[0].Keyword)

	removed, err := st.Unsubscribe(ctx, "42", "go")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.Unsubscribe(ctx, "42", "go")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err = st.Recipient(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotificationsAndPostingsSince(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	old, err := st.Insert(ctx, domain.Posting{URL: "old", IngestedAt: base.Add(-48 * time.Hour)})
	require.NoError(t, err)
	fresh, err := st.Insert(ctx, domain.Posting{URL: "fresh", IngestedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, st.RecordKeywords(ctx, fresh, []string{"react"}))

	list, err := st.PostingsSince(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].URL)
	assert.Equal(t, []string{"react"}, list[0].Keywords)

	require.NoError(t, st.AppendNotification(ctx, domain.NotificationRecord{RecipientID: "42", PostingID: old, Keyword: "aws", SentAt: base}))
	require.NoError(t, st.AppendNotification(ctx, domain.NotificationRecord{RecipientID: "42", PostingID: fresh, Keyword: "react", SentAt: base.Add(time.Hour)}))

	recs, err := st.Notifications(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "fresh", recs[0].PostingURL)
	assert.Equal(t, "react", recs[0].Keyword)
}

func TestTryAcquireWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	window := 5 * time.Minute
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	ok, err := st.TryAcquire(ctx, "42", t0, window)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.TryAcquire(ctx, "42", t0.Add(window-time.Millisecond), window)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.TryAcquire(ctx, "7", t0.Add(time.Second), window)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	ok, err = st.TryAcquire(ctx, "42", t0.Add(window), window)
	require.NoError(t, err)
	assert.True(t, ok, "window elapsed")

	ok, err = st.TryAcquire(ctx, "42", t0.Add(window+time.Minute), window)
	require.NoError(t, err)
	assert.False(t, ok, "re-armed at the last success")
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &Store{dialect: dialectPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b IN ($2,$3)", pg.rebind("SELECT 1 WHERE a = ? AND b IN (?,?)"))

	lite := &Store{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	assert.Equal(t, "?,?,?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "oracle"}, logx.Nop())
	require.Error(t, err)
}
