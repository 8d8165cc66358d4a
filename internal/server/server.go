// Package server exposes the assistant over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"aide/internal/intent"
	"aide/internal/models"
	"aide/internal/scheduler"
	"aide/internal/session"
	"aide/internal/tasks"
)

// Store lists stored tasks and keeps health records.
type Store interface {
	FindTasks(ctx context.Context, q tasks.Query) ([]*models.Task, error)
	SaveHealth(ctx context.Context, rec *models.HealthRecord) error
}

// Server wires the HTTP routes to the router, the scheduler and the call sessions.
type Server struct {
	app           *fiber.App
	logger        *slog.Logger
	router        *intent.Router
	sync          *scheduler.Synchronizer
	store         Store
	sessions      *session.Manager
	location      *time.Location
	channelPrefix string
	now           func() time.Time
}

// New creates the server and registers its routes.
func New(logger *slog.Logger, router *intent.Router, synchronizer *scheduler.Synchronizer, store Store, sessions *session.Manager, loc *time.Location, channelPrefix string) *Server {
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		logger:        logger,
		router:        router,
		sync:          synchronizer,
		store:         store,
		sessions:      sessions,
		location:      loc,
		channelPrefix: channelPrefix,
		now:           time.Now,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "aide",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.setupRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on addr until ctx is done, then ends all live calls and shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	s.sessions.StopAll(context.Background())
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   "request_failed",
		Message: err.Error(),
	})
}
