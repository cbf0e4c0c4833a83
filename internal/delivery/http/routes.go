package http

import (
	"github.com/gin-gonic/gin"

	"github.com/catalogsync/importer/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	if cfg.Log.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Status.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)
	router.GET("/status", handler.Status)

	return router
}
