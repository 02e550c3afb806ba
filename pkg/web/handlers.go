package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/maddoxdev/askmaddox/pkg/hub"
	"github.com/maddoxdev/askmaddox/pkg/tts"
)

// handleHealth reports which providers are configured. With ?deep=true the
// synthesis provider is also asked to validate its key.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{
		"success": true,
		"providers": fiber.Map{
			"speech":    s.deps.Transcriber != nil,
			"chat":      s.deps.Completer != nil,
			"synthesis": s.deps.Synthesizer != nil,
		},
		"cacheDir": s.deps.Cache.Dir(),
	}
	if c.QueryBool("deep") && s.deps.Synthesizer != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		if err := s.deps.Synthesizer.Health(ctx); err != nil {
			s.logger.Warn("synthesis health check failed", "error", err)
			body["synthesisError"] = err.Error()
			var apiErr *tts.APIError
			if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
				body["synthesisKeyRejected"] = true
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
	}
	return c.JSON(body)
}

// handleGetLogs returns the recent request log.
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"logs":    s.logs.Entries(),
	})
}

// handleLogsWS streams new request log entries to a websocket client.
func (s *Server) handleLogsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.logHub, conn)
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}
