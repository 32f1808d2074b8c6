package http

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	handler "chain-calendar/internal/adapter/handler/http"
)

// RegisterRoutes sets up the routes for the calendar handler and common health checks.
func RegisterRoutes(r *router.Router, h *handler.CalendarHandler, logger *zap.Logger) {
	logger.Info("Setting up application-specific routes...")

	r.GET("/networks", h.GetNetworks)
	r.GET("/networks/active", h.GetActiveNetworks)
	r.POST("/networks/{id}/enable", h.EnableNetwork)
	r.POST("/networks/{id}/disable", h.DisableNetwork)
	r.PUT("/networks/{id}/url", h.SetNetworkURL)

	r.POST("/custom-networks", h.CreateCustomNetwork)
	r.PUT("/custom-networks/{id}", h.SetCustomNetwork)
	r.DELETE("/custom-networks/{id}", h.DeleteCustomNetwork)

	r.POST("/reconnect", h.Reconnect)
	r.POST("/reconnect/network-restored", h.NetworkRestored)

	r.GET("/calendar/{date}", h.GetDay)
	r.GET("/calendar/{date}/hours", h.GetDayHours)

	r.GET("/filters", h.GetFilters)
	r.PUT("/filters/networks", h.SetNetworkFilter)
	r.PUT("/filters/categories", h.SetCategoryFilter)
	r.DELETE("/filters/{name}", h.DeleteFilter)

	logger.Info("Setting up health check route...")
	r.GET("/health", h.Health)

	logger.Info("All routes registered.")
}

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware(next fasthttp.RequestHandler, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		started := time.Now()
		next(ctx)
		logger.Info("Request handled",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("uri", ctx.RequestURI()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("took", time.Since(started)),
		)
	}
}
