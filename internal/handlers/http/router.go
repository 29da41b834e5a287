package http

import (
	"context"
	"net/http"
	"time"

	"babaphone/internal/core/ports"
	"babaphone/internal/core/services"
	"babaphone/internal/infrastructure/middleware"
	"babaphone/internal/infrastructure/monitoring"
	"babaphone/internal/infrastructure/signal"
	"babaphone/pkg/config"
	"babaphone/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDeps is everything the relay backend routes need. Tokens, Push,
// Metrics and Gatherer are optional.
type RouterDeps struct {
	Config    *config.Config
	Registry  ports.RegistryService
	Signaling ports.SignalingService
	Relay     ports.RelayService
	Tokens    services.TokenService
	Push      *signal.PushServer
	Health    *monitoring.HealthChecker
	Metrics   *monitoring.PrometheusCollector
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	StartedAt time.Time
}

func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config
	log := d.Logger.Sugar()

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoMethod(middleware.MethodNotAllowed)

	var observer middleware.HTTPObserver
	if d.Metrics != nil {
		observer = d.Metrics
	}
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogMiddleware(logger.NewContextLogger(d.Logger), observer),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	api := router.Group("/api")
	api.Use(
		middleware.CORSMiddleware(cfg.Auth.AllowedOrigins),
		middleware.ErrorHandlerMiddleware(log),
		middleware.APIKeyMiddleware(cfg.Auth.APIKey),
	)
	// preflight for every api path
	api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })

	NewDeviceHandler(d.Registry, d.Tokens, log).SetupRoutes(api)

	queues := api.Group("")
	if d.Tokens != nil && cfg.Auth.RequireDeviceToken {
		queues.Use(middleware.DeviceTokenMiddleware(d.Tokens))
	}
	NewSignalHandler(d.Signaling).SetupRoutes(queues)
	NewRelayHandler(d.Relay).SetupRoutes(queues)

	if d.Tokens != nil {
		authed := api.Group("", middleware.DeviceTokenMiddleware(d.Tokens))
		NewTokenHandler(d.Tokens, d.Registry, cfg.Auth.DeviceTokenTTL).SetupRoutes(authed)
	}

	if d.Push != nil {
		router.GET("/ws", middleware.APIKeyMiddleware(cfg.Auth.APIKey), gin.WrapF(d.Push.HandleWebSocket))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(d.StartedAt).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if d.Health != nil {
			status := d.Health.CheckAll(ctx)
			if status.Status != "healthy" {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":       "not_ready",
					"timestamp":    status.Timestamp,
					"dependencies": status.Checks,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	if cfg.Monitoring.PrometheusEnabled && d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
