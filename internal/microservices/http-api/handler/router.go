package handler

import (
	"log/slog"
	"net/http"

	"commlink/internal/microservices/http-api/middleware"
	"commlink/internal/presenter"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer // nil = /metrics not mounted
	Token    string              // empty = /api is open
}

// NewRouter builds the status API over ctrl.
func NewRouter(ctrl presenter.Controller, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(ctrl.Sessions()),
		})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", middleware.RequireToken(opts.Token))
	NewSessionHandler(ctrl).RegisterRoutes(api)
	return r
}
