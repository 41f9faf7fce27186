package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ggonzalez94/spend-runner/internal/permission"
	"github.com/ggonzalez94/spend-runner/internal/task"
)

// Store is the slice of the task store the API reads and writes.
type Store interface {
	Add(t task.Task) error
	Get(id string) (task.Task, error)
	List(status task.Status, limit int) ([]task.Task, error)
}

// TriggerFunc drains pending tasks once and reports how many succeeded.
type TriggerFunc func(ctx context.Context) (int, error)

type Options struct {
	ListenAddr string
	// CronSecret guards the trigger endpoint. Empty disables it.
	CronSecret string
}

// Server exposes the task intake and trigger API.
type Server struct {
	store      Store
	trigger    TriggerFunc
	opts       Options
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

func New(store Store, trigger TriggerFunc, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:   store,
		trigger: trigger,
		opts:    opts,
		logger:  logger,
		engine:  engine,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.POST("/tasks", s.createTask)
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/cron", s.runCron)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("api listening", "addr", s.opts.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

type createTaskRequest struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	UserID  string          `json:"user_id"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kind := task.Kind(strings.TrimSpace(req.Type))
	if kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	if len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}
	// Reject unusable snipe payloads at intake instead of burning a
	// trigger run on a task that can only fail.
	if kind == task.KindSnipe {
		if _, err := permission.Decode(string(req.Payload)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	t := task.New(id, kind, string(req.Payload), strings.TrimSpace(req.UserID))
	if err := s.store.Add(t); err != nil {
		s.logger.Error("add task", "task_id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store task"})
		return
	}
	s.logger.Info("task accepted", "task_id", id, "task_type", string(kind))
	c.JSON(http.StatusCreated, t)
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error("get task", "task_id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read task"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listTasks(c *gin.Context) {
	status := task.Status(strings.TrimSpace(c.Query("status")))
	switch status {
	case "", task.StatusPending, task.StatusRunning, task.StatusSuccess, task.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	tasks, err := s.store.List(status, limit)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) runCron(c *gin.Context) {
	if s.opts.CronSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cron secret not configured"})
		return
	}
	auth := c.GetHeader("Authorization")
	want := "Bearer " + s.opts.CronSecret
	if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	n, err := s.trigger(c.Request.Context())
	if err != nil {
		s.logger.Error("trigger run", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trigger run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"succeeded": n})
}
