package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"jobwatch/internal/domain"
	"jobwatch/internal/notifier"
	logx "jobwatch/pkg/logx"
)

type Runner interface {
	RunOnce(ctx context.Context) (domain.RunResult, error)
}

type Store interface {
	PostingsSince(ctx context.Context, since time.Time, limit int) ([]domain.Posting, error)
	Notifications(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error)
	Ping(ctx context.Context) error
}

// HealthFunc reports extra named components for /healthz; typically the
// supervisor and scheduler snapshots.
type HealthFunc func() map[string]any

// HistoryFunc returns recent delivery attempts, oldest first.
type HistoryFunc func() []notifier.HistoryItem

type Handler struct {
	runner Runner
	store  Store
	health HealthFunc
	log    logx.Logger

	history HistoryFunc

	mu     sync.RWMutex
	secret string
	loc    *time.Location
	now    func() time.Time
}

func NewHandler(runner Runner, store Store, health HealthFunc, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		runner: runner,
		store:  store,
		health: health,
		log:    log.With(logx.String("comp", "http")),
		loc:    time.Local,
		now:    time.Now,
	}
}

// SetSecret swaps the bearer secret guarding /api/run. An empty secret
// leaves the trigger open.
func (h *Handler) SetSecret(secret string) {
	h.mu.Lock()
	h.secret = strings.TrimSpace(secret)
	h.mu.Unlock()
}

// SetHistory exposes the notifier's delivery history on /api/notifier/history.
func (h *Handler) SetHistory(fn HistoryFunc) {
	h.mu.Lock()
	h.history = fn
	h.mu.Unlock()
}

// SetLocation sets the timezone that decides where "today" starts.
func (h *Handler) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	h.mu.Lock()
	h.loc = loc
	h.mu.Unlock()
}

func (h *Handler) requireSecret(c *gin.Context) {
	h.mu.RLock()
	secret := h.secret
	h.mu.RUnlock()
	if secret == "" {
		c.Next()
		return
	}
	got := c.GetHeader("Authorization")
	want := "Bearer " + secret
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

type runResponse struct {
	Success      bool              `json:"success"`
	NewJobs      int               `json:"newJobs"`
	TotalScraped int               `json:"totalScraped"`
	RunID        string            `json:"runId"`
	Error        string            `json:"error,omitempty"`
	Result       *domain.RunResult `json:"result,omitempty"`
}

// Run executes one pipeline run and answers when it completes.
//
// The run is detached from the request: a caller hanging up mid-batch must
// not strand postings that were ingested but not yet notified. The run's
// own timeout bounds it instead.
func (h *Handler) Run(c *gin.Context) {
	res, err := h.runner.RunOnce(context.WithoutCancel(c.Request.Context()))
	body := runResponse{
		Success:      err == nil,
		NewJobs:      res.PostingsNew,
		TotalScraped: res.PostingsSeen,
		RunID:        res.RunID,
		Result:       &res,
	}
	if err != nil {
		_ = c.Error(err)
		body.Error = "Scraping failed"
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSourceFetch) {
			status = http.StatusBadGateway
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// PostingsToday lists postings ingested since local midnight, newest first.
func (h *Handler) PostingsToday(c *gin.Context) {
	h.mu.RLock()
	now := h.now().In(h.loc)
	h.mu.RUnlock()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	limit := queryInt(c, "limit", 100)
	posts, err := h.store.PostingsSince(c.Request.Context(), midnight, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if posts == nil {
		posts = []domain.Posting{}
	}
	c.JSON(http.StatusOK, posts)
}

func (h *Handler) RecipientNotifications(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient id required"})
		return
	}
	recs, err := h.store.Notifications(c.Request.Context(), id, queryInt(c, "limit", 50))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if recs == nil {
		recs = []domain.NotificationRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

// DeliveryHistory lists recent delivery attempts, newest first, failures
// included.
func (h *Handler) DeliveryHistory(c *gin.Context) {
	h.mu.RLock()
	fn := h.history
	h.mu.RUnlock()

	items := []notifier.HistoryItem{}
	if fn != nil {
		all := fn()
		limit := queryInt(c, "limit", 50)
		for i := len(all) - 1; i >= 0 && len(items) < limit; i-- {
			items = append(items, all[i])
		}
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		_ = c.Error(err)
		body["status"] = "unhealthy"
		body["store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		body["store"] = "ok"
	}
	if h.health != nil {
		for k, v := range h.health() {
			body[k] = v
		}
	}
	c.JSON(status, body)
}

// queryInt reads a positive int query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
