// Package server exposes projects, the review workflow and live
// notifications over HTTP.
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
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/presence"
	"github.com/zulandar/conductor/internal/review"
	"github.com/zulandar/conductor/internal/runbook"
	"github.com/zulandar/conductor/internal/scripts"
)

// Opts wires the server to its services.
type Opts struct {
	Store    *runbook.Store
	Review   *review.Service
	Scripts  *scripts.Service
	Hub      *notify.Hub
	Notifier notify.Notifier
	Presence presence.Tracker
	Auth     Auth
	Log      *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	opts   Opts
	log    *slog.Logger
	router *gin.Engine
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil || opts.Review == nil {
		return nil, errors.New("server: store and review service are required")
	}
	if len(opts.Auth.Secret) == 0 {
		return nil, errors.New("server: jwt secret is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Presence == nil {
		opts.Presence = presence.NewMemory(presence.DefaultTTL)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{opts: opts, log: log, router: router}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr. It blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string, out io.Writer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if out != nil {
		fmt.Fprintf(out, "Conductor API listening on %s\n", addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger logs each request and any internal error attached to it.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		log.Debug("request", attrs...)
	}
}
