// Package http provides the HTTP server of the compliance chat service.
package http

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/xiaot623/gogo/esgchat/internal/config"
	"github.com/xiaot623/gogo/esgchat/internal/service"
	"github.com/xiaot623/gogo/esgchat/internal/transport/http/mockllm"
	v1 "github.com/xiaot623/gogo/esgchat/internal/transport/http/v1"
	"github.com/xiaot623/gogo/esgchat/internal/transport/ws"
)

// NewServer creates and configures the HTTP server: the chat API, the
// viewer WebSocket and, when mock is set, the mock completion endpoint.
func NewServer(cfg *config.Config, svc *service.Service, hub *ws.Hub, mock bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	level := logLevel(cfg.LogLevel)
	e.Logger.SetLevel(level)

	// Middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		// Request lines are info level.
		Skipper: func(echo.Context) bool { return level > log.INFO },
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	wsServer := ws.NewServer(cfg, hub, svc)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)
	if mock {
		mockllm.NewHandler().RegisterRoutes(e)
	}

	return e
}

// logLevel maps LOG_LEVEL to an echo logger level. Unknown values mean info.
func logLevel(s string) log.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
