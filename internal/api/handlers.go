package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/harrison/arcsolve/internal/bridge"
	"github.com/harrison/arcsolve/internal/models"
	"github.com/harrison/arcsolve/internal/orchestrator"
	"github.com/harrison/arcsolve/internal/puzzle"
	"github.com/harrison/arcsolve/internal/store"
)

// StartRequest is the body of POST /api/runs. Zero fields take the
// configured defaults.
type StartRequest struct {
	PuzzleID       string `json:"puzzleId" binding:"required"`
	Model          string `json:"model"`
	ExpertCount    int    `json:"expertCount"`
	MaxIterations  int    `json:"maxIterations"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// RunConfig converts the request to run parameters.
func (r StartRequest) RunConfig() models.RunConfig {
	return models.RunConfig{
		Model:         r.Model,
		ExpertCount:   r.ExpertCount,
		MaxIterations: r.MaxIterations,
		Timeout:       time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// errorStatus maps control-surface errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound), errors.Is(err, puzzle.ErrPuzzleNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidRunConfig), errors.Is(err, puzzle.ErrInvalidPuzzle):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case bridge.IsSpawnError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ExpertCount < 0 || req.MaxIterations < 0 || req.TimeoutSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expertCount, maxIterations and timeoutSeconds must not be negative"})
		return
	}

	id, err := s.ctl.StartRun(c.Request.Context(), req.PuzzleID, req.RunConfig())
	if err != nil {
		body := gin.H{"error": err.Error()}
		if id != "" {
			body["runId"] = id
		}
		status := errorStatus(err)
		s.log.Warnf("start run for puzzle %s: %v", req.PuzzleID, err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id})
}

func (s *Server) handleList(c *gin.Context) {
	opts := store.ListOptions{
		PuzzleID: c.Query("puzzleId"),
		Status:   models.RunStatus(c.Query("status")),
	}
	if opts.Status != "" && !opts.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(opts.Status)})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		opts.Limit = n
	}

	runs, err := s.ctl.List(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleStatus(c *gin.Context) {
	run, err := s.ctl.GetRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleSummary(c *gin.Context) {
	sum, err := s.ctl.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleCancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.ctl.CancelRun(ctx, id); err != nil {
		s.fail(c, err)
		return
	}
	run, err := s.ctl.GetRunStatus(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": id, "status": run.Status})
}

// handleEvents streams the run as Server-Sent Events. Each event carries
// its sequence number as the SSE id and its type as the SSE event name.
// The stream ends after the terminal event.
func (s *Server) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := s.ctl.SubscribeRun(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepalive.C:
			_, err := w.Write([]byte(":keepalive\n\n"))
			return err == nil
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    strconv.FormatUint(ev.Sequence, 10),
				Event: string(ev.Type),
				Data:  ev,
			})
			return true
		}
	})

	if n := sub.Dropped(); n > 0 {
		s.log.Warnf("SSE subscriber for run %s dropped %d events", c.Param("id"), n)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "activeRuns": s.ctl.ActiveRuns()})
}

var _ Controller = (*orchestrator.Orchestrator)(nil)
