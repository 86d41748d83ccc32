// Package web serves the optional status endpoint. It reports the
// listener's state machine and counters as JSON and carries no control
// surface: the listener runs the same with or without it.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/perchmail/perch/internal/listener"
)

// Server exposes /healthz and /status over HTTP.
type Server struct {
	app      *fiber.App
	logger   *slog.Logger
	snapshot func() listener.Snapshot
}

// New builds the status server around a snapshot source.
func New(logger *slog.Logger, snapshot func() listener.Snapshot) (*Server, error) {
	if logger == nil {
		return nil, errors.New("requires slogger")
	}
	if snapshot == nil {
		return nil, errors.New("requires snapshot source")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())

	s := &Server{app: app, logger: logger, snapshot: snapshot}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(s.snapshot())
	})

	return s, nil
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("status server listening", slog.String("addr", addr))
	if err := s.app.Listen(addr); err != nil {
		return errors.Wrap(err, "status server")
	}
	return nil
}

// Shutdown stops the server, honoring the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app so tests can drive requests
// without a network listener.
func (s *Server) App() *fiber.App {
	return s.app
}
