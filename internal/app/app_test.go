package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/config"
	"jobwatch/internal/httpapi"
	"jobwatch/internal/notifier"
	"jobwatch/internal/transport"
	logx "jobwatch/pkg/logx"
)

const postingsFixture = `postings:
  - title: Senior Python Engineer
    body: Django and PostgreSQL, some Docker.
    origin: Acme
    url: https://jobs.example/1?utm_source=feed
  - title: Frontend Developer
    body: React and TypeScript.
    origin: Globex
    url: https://jobs.example/2
`

type testEnv struct {
	dir     string
	cfgPath string
	opts    Options
}

func newEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "postings.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(postingsFixture), 0o644))

	cfg := strings.Join([]string{
		"logging:",
		"  level: error",
		"  console: true",
		"storage:",
		"  driver: sqlite",
		"  dsn: " + filepath.Join(dir, "jobs.db"),
		"sources:",
		"  static: " + fixture,
	}, "\n") + "\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	return &testEnv{
		dir:     dir,
		cfgPath: path,
		opts: Options{
			ConfigPath: path,
			DryRun:     true,
			Getenv:     func(string) string { return "" },
		},
	}
}

func TestRunOnceDryRunDeliversThroughLogTransport(t *testing.T) {
	env := newEnv(t, "")
	ctx := context.Background()

	res, err := Subscribe(ctx, env.opts, "42", []string{"python", "cobol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, res.Added)
	assert.Equal(t, []string{"cobol"}, res.Unknown)

	a, err := New(ctx, env.opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	first, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.PostingsSeen)
	assert.Equal(t, 2, first.PostingsNew)
	assert.Equal(t, 1, first.Sent)

	la, ok := a.adapter.(*transport.LogAdapter)
	require.True(t, ok)
	sent := la.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, transport.ChatTarget{ChatID: 42}, sent[0].To)
	assert.Contains(t, sent[0].Text, "Senior Python Engineer")
	assert.Contains(t, sent[0].Text, "https://jobs.example/1")
	assert.NotContains(t, sent[0].Text, "utm_source")

	w := httptest.NewRecorder()
	httpapi.NewServer(a.api, logx.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notifier/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var history []notifier.HistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "42", history[0].Recipient)

	second, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.PostingsSeen)
	assert.Equal(t, 0, second.PostingsNew)
	assert.Len(t, la.Sent(), 1)
}

func TestSubscribeValidatesInput(t *testing.T) {
	env := newEnv(t, "")
	ctx := context.Background()

	_, err := Subscribe(ctx, env.opts, "not-a-chat", []string{"python"})
	assert.Error(t, err)
	_, err = Subscribe(ctx, env.opts, "42", []string{" , "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no keywords given")

	res, err := Subscribe(ctx, env.opts, "42", []string{"python,Django", "cobol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"django", "python"}, res.Added)
	assert.Equal(t, []string{"cobol"}, res.Unknown)

	res, err = Subscribe(ctx, env.opts, "-100:7", []string{"Docker", "docker"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docker"}, res.Added)
	res, err = Subscribe(ctx, env.opts, "-100:7", []string{"docker"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docker"}, res.Existing)
}

func TestMigrateReportsSchemaVersion(t *testing.T) {
	env := newEnv(t, "")
	v, err := Migrate(context.Background(), env.opts)
	require.NoError(t, err)
	assert.Positive(t, v)

	again, err := Migrate(context.Background(), env.opts)
	require.NoError(t, err)
	assert.Equal(t, v, again)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	env := newEnv(t, "scheduler:\n  enabled: true\n  schedule: bogus\n")
	_, err := New(context.Background(), env.opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.schedule")
}

func TestApplyUpdatesRuntimeComponents(t *testing.T) {
	env := newEnv(t, "")
	a, err := New(context.Background(), env.opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Keywords.Extra = []string{"rust"}
	newCfg.RateLimit.Window = "10m"

	assert.False(t, a.extractor.Contains("rust"))
	a.apply(oldCfg, &newCfg)
	assert.True(t, a.extractor.Contains("rust"))
}

func TestServeStopsOnCancel(t *testing.T) {
	env := newEnv(t, "http:\n  enabled: true\n  addr: 127.0.0.1:0\nscheduler:\n  enabled: true\n  schedule: every:1h\n")
	a, err := New(context.Background(), env.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return")
	}

	started := map[string]int{}
	for _, task := range a.sup.Snapshot().Tasks {
		started[task.Name] = task.Started
	}
	for _, name := range []string{"bot", "scheduler", "http", "config.reload", "config.watch"} {
		assert.Positive(t, started[name], name)
	}
	assert.Contains(t, a.health(), "scheduler")
}

func TestMappingDefaults(t *testing.T) {
	cfg := &config.Config{}
	d, err := cfg.Durations()
	require.NoError(t, err)

	assert.Equal(t, ":8080", serverConfig(cfg).Addr)
	assert.Equal(t, "recipient", string(pipelineConfig(cfg, d).Scope))
	assert.Equal(t, 0, buildSource(cfg, d, nil).Len())

	cfg.Scheduler.Timezone = "Asia/Jakarta"
	assert.Equal(t, "Asia/Jakarta", location(cfg).String())
}
