package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server exposes /metrics and /healthz.
type Server struct {
	App     *fiber.App
	started time.Time
	ready   atomic.Bool
}

func NewServer(m *Metrics) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          fiberErrHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})
	app.Use(recover.New())

	s := &Server{App: app, started: time.Now()}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := "starting"
		if s.ready.Load() {
			status = "ok"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})
	return s
}

// SetReady marks the process as having completed one loop iteration.
func (s *Server) SetReady() { s.ready.Store(true) }

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("status server listening")
		errCh <- s.App.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.App.Shutdown(); err != nil {
			return err
		}
		return nil
	}
}

func fiberErrHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	log.Error().Err(err).Int("status_code", code).Str("path", c.Path()).Msg("status server error")
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
