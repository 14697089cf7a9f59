// Package http provides the HTTP server: the request/response fallback API,
// health and metrics endpoints, and the WebSocket route.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/logging"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
	"github.com/xiaot623/gogo/chatd/internal/transport/ws"
)

// NewServer creates and configures the HTTP server.
func NewServer(dispatcher Dispatcher, wsServer *ws.Server, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(logging.RequestLogger(logger))
	e.Use(middleware.Recover())

	// Handlers
	h := NewHandler(dispatcher, logger)
	h.RegisterRoutes(e)
	if wsServer != nil {
		wsServer.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	return e
}
