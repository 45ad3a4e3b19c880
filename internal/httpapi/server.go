// Package httpapi exposes the run trigger and read endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logx "jobwatch/pkg/logx"
)

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        ":8080",
		ReadTimeout: 30 * time.Second,
		// A triggered run answers only when it finishes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
}

// NewServer builds the gin engine with every route attached.
func NewServer(h *Handler, log logx.Logger) *gin.Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := gin.New()
	r.Use(requestLog(log.With(logx.String("comp", "http"))))
	r.Use(gin.Recovery())
	setupRoutes(r, h)
	return r
}

func setupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		run := api.Group("/run", h.requireSecret)
		run.POST("", h.Run)
		run.GET("", h.Run)

		api.GET("/postings/today", h.PostingsToday)
		api.GET("/recipients/:id/notifications", h.RecipientNotifications)
		api.GET("/notifier/history", h.requireSecret, h.DeliveryHistory)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "jobwatch",
			"endpoints": map[string]string{
				"run":           "/api/run (POST, Bearer cron_secret)",
				"today":         "/api/postings/today",
				"notifications": "/api/recipients/:id/notifications?limit=",
				"deliveries":    "/api/notifier/history?limit= (Bearer cron_secret)",
				"health":        "/healthz",
			},
		})
	})
}

// requestLog replaces gin's stdout logger with structured request lines.
func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("latency", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, logx.String("error", msg))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Warn("request", fields...)
		case c.Request.URL.Path == "/healthz":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Serve runs engine on cfg.Addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg ServerConfig, engine http.Handler, log logx.Logger) error {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown incomplete", logx.Err(err))
	}
	log.Info("http server stopped")
	return nil
}
