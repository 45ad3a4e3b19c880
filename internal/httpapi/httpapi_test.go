package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
	"jobwatch/internal/notifier"
	"jobwatch/internal/storage"
	logx "jobwatch/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeRunner struct {
	res   domain.RunResult
	err   error
	calls int
}

func (f *fakeRunner) RunOnce(ctx context.Context) (domain.RunResult, error) {
	f.calls++
	return f.res, f.err
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "api.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func do(engine *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRunRequiresSecret(t *testing.T) {
	runner := &fakeRunner{res: domain.RunResult{RunID: "r-1", PostingsSeen: 5, PostingsNew: 2}}
	h := NewHandler(runner, openStore(t), nil, logx.Nop())
	h.SetSecret("s3cret")
	engine := NewServer(h, logx.Nop())

	w := do(engine, http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(engine, http.MethodPost, "/api/run", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, runner.calls)

	w = do(engine, http.MethodPost, "/api/run", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["newJobs"])
	assert.Equal(t, float64(5), body["totalScraped"])
	assert.Equal(t, "r-1", body["runId"])

	// Cron services that only issue GET can trigger too.
	w = do(engine, http.MethodGet, "/api/run", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, runner.calls)
}

// ctxRunner reports whether the run context was still live when the run ended.
type ctxRunner struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (r *ctxRunner) RunOnce(ctx context.Context) (domain.RunResult, error) {
	close(r.started)
	<-r.release
	r.err = ctx.Err()
	return domain.RunResult{RunID: "r-4"}, r.err
}

func TestRunOutlivesCancelledRequest(t *testing.T) {
	runner := &ctxRunner{started: make(chan struct{}), release: make(chan struct{})}
	engine := NewServer(NewHandler(runner, openStore(t), nil, logx.Nop()), logx.Nop())

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/run", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.ServeHTTP(w, req)
	}()

	<-runner.started
	cancel()
	close(runner.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.NoError(t, runner.err)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeliveryHistoryNewestFirst(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	h := NewHandler(&fakeRunner{}, openStore(t), nil, logx.Nop())
	h.SetSecret("s3cret")
	engine := NewServer(h, logx.Nop())

	w := do(engine, http.MethodGet, "/api/notifier/history", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	h.SetHistory(func() []notifier.HistoryItem {
		return []notifier.HistoryItem{
			{At: at, Recipient: "1", Text: "first"},
			{At: at.Add(time.Minute), Recipient: "2", Text: "second", Error: "chat not found"},
			{At: at.Add(2 * time.Minute), Recipient: "3", Text: "third"},
		}
	})
	w = do(engine, http.MethodGet, "/api/notifier/history", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(engine, http.MethodGet, "/api/notifier/history?limit=2", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var items []notifier.HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "third", items[0].Text)
	assert.Equal(t, "chat not found", items[1].Error)
}

func TestRunOpenWithoutSecret(t *testing.T) {
	runner := &fakeRunner{res: domain.RunResult{RunID: "r-2"}}
	engine := NewServer(NewHandler(runner, openStore(t), nil, logx.Nop()), logx.Nop())

	w := do(engine, http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"source", domain.Wrap(domain.ErrSourceFetch, "fetch", errors.New("HTTP 503")), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{res: domain.RunResult{RunID: "r-3", PostingsSeen: 1}, err: tt.err}
			engine := NewServer(NewHandler(runner, openStore(t), nil, logx.Nop()), logx.Nop())

			w := do(engine, http.MethodPost, "/api/run", "")
			assert.Equal(t, tt.want, w.Code)
			var body runResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, "Scraping failed", body.Error)
			assert.Equal(t, "r-3", body.RunID)
		})
	}
}

func TestPostingsTodayStartsAtLocalMidnight(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	insert := func(url string, at time.Time, kws ...string) {
		id, err := st.Insert(ctx, domain.Posting{URL: url, Title: url, IngestedAt: at})
		require.NoError(t, err)
		require.NoError(t, st.RecordKeywords(ctx, id, kws))
	}
	insert("https://jobs.example/old", day.Add(-time.Hour))
	insert("https://jobs.example/a", day.Add(8*time.Hour), "python")
	insert("https://jobs.example/b", day.Add(9*time.Hour), "docker", "go")

	h := NewHandler(&fakeRunner{}, st, nil, logx.Nop())
	h.SetLocation(time.UTC)
	h.now = func() time.Time { return day.Add(12 * time.Hour) }
	engine := NewServer(h, logx.Nop())

	w := do(engine, http.MethodGet, "/api/postings/today", "")
	require.Equal(t, http.StatusOK, w.Code)
	var posts []domain.Posting
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	require.Len(t, posts, 2)
	assert.Equal(t, "https://jobs.example/b", posts[0].URL)
	assert.Equal(t, []string{"docker", "go"}, posts[0].Keywords)
	assert.Equal(t, "https://jobs.example/a", posts[1].URL)
}

func TestPostingsTodayEmptyIsArray(t *testing.T) {
	engine := NewServer(NewHandler(&fakeRunner{}, openStore(t), nil, logx.Nop()), logx.Nop())
	w := do(engine, http.MethodGet, "/api/postings/today", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRecipientNotifications(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	id, err := st.Insert(ctx, domain.Posting{URL: "https://jobs.example/a", Title: "A"})
	require.NoError(t, err)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, kw := range []string{"python", "django", "flask"} {
		require.NoError(t, st.AppendNotification(ctx, domain.NotificationRecord{
			RecipientID: "42", PostingID: id, Keyword: kw, SentAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	engine := NewServer(NewHandler(&fakeRunner{}, st, nil, logx.Nop()), logx.Nop())
	w := do(engine, http.MethodGet, "/api/recipients/42/notifications?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []domain.NotificationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "flask", recs[0].Keyword)
	assert.Equal(t, "https://jobs.example/a", recs[0].PostingURL)

	w = do(engine, http.MethodGet, "/api/recipients/7/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealth(t *testing.T) {
	st := openStore(t)
	h := NewHandler(&fakeRunner{}, st, func() map[string]any {
		return map[string]any{"supervisor": map[string]any{"tasks": []string{"scheduler"}}}
	}, logx.Nop())
	engine := NewServer(h, logx.Nop())

	w := do(engine, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.Contains(t, body, "supervisor")

	require.NoError(t, st.Close())
	w = do(engine, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	engine := NewServer(NewHandler(&fakeRunner{}, openStore(t), nil, logx.Nop()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, ServerConfig{Addr: "127.0.0.1:0"}, engine, logx.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
