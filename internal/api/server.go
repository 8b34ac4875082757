package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nikoclip/nikoclip/internal/tasks"
)

// Runner processes one uploaded video for a task.
type Runner interface {
	Run(ctx context.Context, taskID, videoPath string)
}

// Scheduler runs work in the background, keyed by task id.
type Scheduler interface {
	Submit(ctx context.Context, key string, fn func(context.Context)) bool
	Active() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Host           string
	Port           int
	Repository     tasks.Repository
	Runner         Runner
	Scheduler      Scheduler
	UploadsDir     string
	MaxUploadBytes int64
	AllowedOrigins []string
	StoreName      string
	Version        string
	Logger         *slog.Logger
	StartTime      time.Time
	// RunContext is handed to background runs; cancelling it interrupts them.
	RunContext context.Context
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
