// Package server exposes the webhook handler over HTTP for deployments
// that do not run under Lambda.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/onduty"
	"github.com/asmbly/odvclock/internal/upstream"
)

// maxBody caps webhook payloads; real ones are a few hundred bytes.
const maxBody = 64 << 10

type Handler interface {
	HandleBody(ctx context.Context, body []byte) (onduty.Response, error)
}

type Options struct {
	// Path the webhook is posted to. Defaults to /webhook.
	Path          string
	RatePerSecond float64
	Burst         int
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Health reports dependency problems for /healthz. Nil means always
	// healthy.
	Health func(ctx context.Context) error
}

func NewRouter(h Handler, opts Options, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Path == "" {
		opts.Path = "/webhook"
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger, "/healthz", "/metrics"))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hook := r.Group("")
	if opts.RatePerSecond > 0 {
		hook.Use(newTokenBucket(opts.RatePerSecond, opts.Burst).middleware())
	}
	hook.POST(opts.Path, webhook(h, logger))

	return r
}

func webhook(h Handler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}

		resp, err := h.HandleBody(c.Request.Context(), body)
		if err != nil {
			status := statusFor(err)
			logger.Error("Webhook failed", "status", status, "error", err)
			c.JSON(status, gin.H{"statusCode": status, "error": http.StatusText(status)})
			return
		}
		c.JSON(resp.StatusCode, resp)
	}
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	var malformed *event.MalformedEventError
	if errors.As(err, &malformed) {
		return http.StatusBadRequest
	}
	if upstream.ServiceOf(err) != "" {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func requestLogger(logger *slog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Run serves handler on addr until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
