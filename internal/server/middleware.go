package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled often and not worth a log line per request
var quietPaths = map[string]bool{
	"/metrics":   true,
	"/health":    true,
	"/api/room":  true,
	"/api/stats": true,
}

// LoggingMiddleware logs HTTP requests. Server errors are logged at warn.
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()
		if quietPaths[path] && status < fiber.StatusInternalServerError {
			return err
		}

		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError || err != nil {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"bytes", len(c.Response().Body()),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
