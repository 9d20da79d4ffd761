// Package server exposes the HTTP surface: health, metrics, the live
// update stream, and the open-window snapshot.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
	"github.com/orderflow-lab/orderflow/internal/publisher"
)

// SnapshotFunc returns the open windows of every pipeline, keyed by
// pipeline name. Reconnecting stream clients call this to resync.
type SnapshotFunc func() map[string][]aggregation.Update

type Server struct {
	Engine *gin.Engine
	Addr   string

	db       *sql.DB
	hub      *publisher.Hub
	snapshot SnapshotFunc
}

func New(addr string, db *sql.DB, mode string, hub *publisher.Hub, snapshot SnapshotFunc) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine:   r,
		Addr:     addr,
		db:       db,
		hub:      hub,
		snapshot: snapshot,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/v1/windows", s.windowsHandler)
	r.GET("/v1/stream", s.streamHandler)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// windowsHandler serves the current value of every open window. The
// in-memory aggregation state is the source of truth; the stream is only
// a notification channel.
func (s *Server) windowsHandler(c *gin.Context) {
	if s.snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"pipelines": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": s.snapshot()})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
