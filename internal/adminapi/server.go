// Package adminapi exposes a relay process's session table and debug
// counters over HTTP.
package adminapi

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/neonproto/neon/internal/config"
	"github.com/neonproto/neon/internal/relay"
)

type Server struct {
	app   *fiber.App
	cfg   *config.Config
	relay *relay.Engine
}

func NewServer(cfg *config.Config, engine *relay.Engine) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	if cfg.AdminAPI.LogRequests {
		app.Use(logger.New())
	}

	s := &Server{app: app, cfg: cfg, relay: engine}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/sessions", s.handleSessions)
	s.app.Get("/metrics", s.handleMetrics)
	s.app.Get("/healthz", s.handleHealthz)
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.AdminAPI.Port))
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(s.relay.Snapshot())
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	relay.WritePrometheus(c.Response().BodyWriter())
	return nil
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
