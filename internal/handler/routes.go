package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamgate/internal/config"
	"streamgate/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, sign *SignHandler, health *HealthHandler, static *StaticHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)

	e.POST("/generate-signed-url", sign.Handle)

	e.GET("/proxy", proxy.Handle)
	e.HEAD("/proxy", proxy.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	// Everything else falls back to the static player assets.
	e.RouteNotFound("/*", static.Handle)
}
