// Package httpapi is the admin HTTP surface: broadcast submission, test
// sends, delivery history and image upload.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shopbot/internal/config"
	"shopbot/pkg/logx"
)

type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg config.HTTPConfig, h *Handler, log logx.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(log))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(engine)

	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.ReadTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	// Broadcast requests block until the whole fan-out completes, so the
	// write timeout defaults to unlimited.
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.WriteTimeout, 0)
	if err != nil {
		return nil, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.IdleTimeout, 60*time.Second)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  read,
			WriteTimeout: write,
			IdleTimeout:  idle,
		},
		log: log,
	}, nil
}

// Run serves until the listener fails. A closed-server error after
// Shutdown is not a failure.
func (s *Server) Run() error {
	s.log.Info("http server listening", logx.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func accessLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
