package router

import (
	"net/http"

	"github.com/cuongbtq/dvt-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "trigger-service",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "trigger-service",
		})
	})

	ingestHandler := handler.NewIngestHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/events - S3-style object-created notifications
		v1.POST("/events", ingestHandler.HandleEvent)

		// PUT /api/v1/objects/*key - Upload a source object and ingest it
		v1.PUT("/objects/*key", ingestHandler.UploadObject)

		if deps.Stager != nil {
			// POST /api/v1/stage - Copy a pinned source version to the stage bucket
			v1.POST("/stage", ingestHandler.StageObject)
		}
	}

	return r
}
