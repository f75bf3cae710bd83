package api

import (
	"github.com/gin-gonic/gin"
	"github.com/leozw/sitestats/internal/api/handlers"
	"github.com/leozw/sitestats/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Router *gin.Engine
}

func NewServer(mode string, h *handlers.Handler, registry *prometheus.Registry, logger *zap.Logger) *Server {
	gin.SetMode(mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	server := &Server{Router: router}
	server.setupRoutes(h, registry)
	return server
}

func (s *Server) setupRoutes(h *handlers.Handler, registry *prometheus.Registry) {
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	if registry != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api/v1")
	{
		api.GET("/view", h.View)
		api.POST("/refresh", h.Refresh)
		api.PUT("/timerange", h.SetTimeRange)
		api.GET("/stats/:id", h.Stats)
	}

	sites := api.Group("/sites")
	{
		sites.GET("", h.ListSites)
		sites.POST("", h.CreateSite)
		sites.PUT("/:id", h.UpdateSite)
		sites.DELETE("/:id", h.DeleteSite)
	}

	active := api.Group("/active")
	{
		active.PUT("", h.SetActive)
		active.POST("/next", h.NextSite)
	}
}
