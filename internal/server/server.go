// Package server is the operator facing HTTP surface: health, metrics,
// queue state, photo status, and the converted files themselves.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiedye/internal/models"
	"tiedye/internal/queue"
	"tiedye/internal/storage"
)

// InFlighter reports the queue entries currently being processed.
type InFlighter interface {
	InFlight() []string
}

type Server struct {
	addr     string
	router   *gin.Engine
	http     *http.Server
	db       *storage.Storage
	runner   *storage.Runner
	dir      *queue.Dir
	inFlight InFlighter
	logger   *log.Logger
}

func NewServer(cfg *models.Config, db *storage.Storage, runner *storage.Runner, dir *queue.Dir, inFlight InFlighter, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Static("/files", cfg.PublicDir)

	s := &Server{
		addr:     cfg.Admin.Addr,
		router:   r,
		db:       db,
		runner:   runner,
		dir:      dir,
		inFlight: inFlight,
		logger:   logger,
	}
	s.http = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/queue", s.handleQueue)
	r.GET("/photos/:id", s.handleGetPhoto)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server.Start: %w", err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("admin server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleQueue(c *gin.Context) {
	const op = "server.handleQueue"

	queued, err := s.dir.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if queued == nil {
		queued = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"queued":    queued,
		"in_flight": s.inFlight.InFlight(),
	})
}

func (s *Server) handleGetPhoto(c *gin.Context) {
	const op = "server.handleGetPhoto"

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: invalid photo id %q", op, c.Param("id"))})
		return
	}

	var photo *models.Photo
	err = s.runner.Run(c.Request.Context(), func(ctx context.Context, tx *sqlx.Tx) error {
		got, err := storage.GetPhoto(ctx, tx, id)
		photo = got
		return err
	})
	if errors.Is(err, models.ErrPhotoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	body := gin.H{
		"id":         photo.ID,
		"status":     photo.Status(),
		"owner_kind": photo.Kind,
		"owner_id":   photo.Owner.ID,
		"created_at": photo.CreatedAt,
	}
	if photo.Filename != nil {
		body["filename"] = *photo.Filename
		body["url"] = "/files/" + *photo.Filename
	}
	c.JSON(http.StatusOK, body)
}
