package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/api/middleware"
	"github.com/inkwell-labs/inkwell/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	ingestService *service.IngestService,
	draftingService *service.DraftingService,
	log *zap.Logger,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handler := NewHandler(ingestService, draftingService, log)
	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.Auth(cfg.APIKey))
	handler.RegisterRoutes(apiGroup)

	return r
}
