package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"prefrontal/app/client/natsbus"
	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/service/conversation"
	"prefrontal/app/service/engine"
	"prefrontal/app/service/queue"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const shutdownTimeout = 10 * time.Second

type Ingress interface {
	Add(source string, msg model.Message) bool
}

type Notifier interface {
	Notify(n model.Notification) (conversation.HandleResult, bool)
}

type Streams interface {
	Status(key string) (conversation.Status, bool)
	Keys() []string
	Remove(key string) bool
}

type Readiness interface {
	Enabled() bool
	IsConnected() bool
}

// Server is the HTTP ingress and inspection API.
type Server struct {
	listen    string
	app       *fiber.App
	ingress   Ingress
	notifier  Notifier
	streams   Streams
	readiness Readiness
	validate  *validator.Validate
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return newServer(
		cfg.HTTP.Listen,
		do.MustInvoke[*queue.Service](di),
		do.MustInvoke[*engine.Service](di),
		do.MustInvoke[*conversation.Registry](di),
		do.MustInvoke[*natsbus.Client](di),
	), nil
}

func newServer(listen string, ingress Ingress, notifier Notifier, streams Streams, readiness Readiness) *Server {
	s := &Server{
		listen:    listen,
		ingress:   ingress,
		notifier:  notifier,
		streams:   streams,
		readiness: readiness,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	s.app.Get("/ready", s.ready)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api/v1")
	api.Get("/streams", s.listStreams)
	api.Get("/streams/:key", s.getStream)
	api.Delete("/streams/:key", s.deleteStream)
	api.Post("/streams/:key/messages", s.postMessage)
	api.Post("/streams/:key/notifications", s.postNotification)
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP server listening", "listen", s.listen)
		errCh <- s.app.Listen(s.listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.In("server").With("listen", s.listen).Wrapf(err, "HTTP server failed")
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return oops.In("server").Wrapf(err, "failed to shut down HTTP server")
	}

	return nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("HTTP request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
