package router

import (
	"github.com/gin-gonic/gin"

	"ledgerline/internal/handler"
	"ledgerline/internal/middleware"
	"ledgerline/internal/pkg/logger"
)

// Handlers groups the HTTP handlers mounted by Setup.
type Handlers struct {
	Extraction *handler.ExtractionHandler
	Draft      *handler.DraftHandler
	Health     *handler.HealthHandler
}

// Setup configures the Gin engine with all routes and middleware.
func Setup(h Handlers, corsOrigins []string, log logger.Logger) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(corsOrigins))

	// Health checks
	r.GET("/healthz", h.Health.Liveness)
	r.GET("/readyz", h.Health.Readiness)

	v1 := r.Group("/api/v1")

	extractions := v1.Group("/extractions")
	extractions.POST("", h.Extraction.Extract)
	extractions.POST("/upload", h.Extraction.Upload)

	drafts := v1.Group("/drafts")
	drafts.GET("", h.Draft.List)
	drafts.GET("/:id", h.Draft.GetByID)
	drafts.GET("/:id/export", h.Draft.Export)

	return r
}
