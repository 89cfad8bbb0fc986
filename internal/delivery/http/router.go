package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"shelfcheck/config"
)

// NewRouter builds the gin engine with middleware and all API routes.
func NewRouter(cfg config.ServerConfig, h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.POST("/validate", h.Validate)
	v1.GET("/match", h.Match)

	catalog := v1.Group("/catalog")
	catalog.GET("/stats", h.Stats)
	catalog.GET("/files", h.ListFiles)
	catalog.PUT("/files/:fileID", h.IndexFile)
	catalog.DELETE("/files/:fileID", h.DeleteFile)
	catalog.POST("/reconcile", h.Reconcile)

	return router
}

// RequestLogger logs one access line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("[access]")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	return cors.New(corsConfig)
}
