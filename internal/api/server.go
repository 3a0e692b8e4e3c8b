// Package api exposes the run control surface over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrison/arcsolve/internal/logger"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/store"
	"github.com/harrison/arcsolve/internal/stream"
)

// DefaultKeepalive is the SSE comment interval on idle streams.
const DefaultKeepalive = 15 * time.Second

// Controller is the run control surface served by the adapter.
type Controller interface {
	StartRun(ctx context.Context, puzzleID string, rc models.RunConfig) (string, error)
	GetRunStatus(ctx context.Context, runID string) (models.Run, error)
	SubscribeRun(ctx context.Context, runID string) (*stream.Subscription, error)
	CancelRun(ctx context.Context, runID string) error
	Summarize(ctx context.Context, runID string) (models.RunSummary, error)
	List(ctx context.Context, opts store.ListOptions) ([]models.Run, error)
	ActiveRuns() int
}

// Server is the gin router plus its dependencies.
type Server struct {
	ctl       Controller
	log       logger.Logger
	router    *gin.Engine
	keepalive time.Duration
}

// NewServer builds the router. log may be nil.
func NewServer(ctl Controller, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Server{ctl: ctl, log: log, keepalive: DefaultKeepalive}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(r)
	s.router = r
	return s
}

// registerRoutes wires every endpoint.
//
//	POST   /api/runs              start a run
//	GET    /api/runs              list runs
//	GET    /api/runs/:id          run status
//	GET    /api/runs/:id/summary  aggregated totals
//	GET    /api/runs/:id/events   SSE stream: replay, then live
//	DELETE /api/runs/:id          cancel
//	GET    /metrics               Prometheus
//	GET    /healthz               liveness
func (s *Server) registerRoutes(r *gin.Engine) {
	runs := r.Group("/api/runs")
	runs.POST("", s.handleStart)
	runs.GET("", s.handleList)
	runs.GET("/:id", s.handleStatus)
	runs.GET("/:id/summary", s.handleSummary)
	runs.GET("/:id/events", s.handleEvents)
	runs.DELETE("/:id", s.handleCancel)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.handleHealth)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
