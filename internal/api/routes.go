package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter builds the HTTP handler of the upload server. maxChunkBytes
// bounds the raw body of a chunk request.
func NewRouter(svc UploadService, maxChunkBytes int64) *gin.Engine {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "stowaway",
			"time":    time.Now().UTC(),
		})
	})

	UploadRoutes(router.Group("/api"), svc, maxChunkBytes)

	return router
}

// UploadRoutes sets up the resumable upload endpoints
func UploadRoutes(api *gin.RouterGroup, svc UploadService, maxChunkBytes int64) {
	upload := api.Group("/upload")

	upload.POST("/init", handleInit(svc))
	upload.POST("/chunk", BodyLimit(maxChunkBytes), handleChunk(svc))
	upload.POST("/complete", handleComplete(svc))
	upload.GET("/:uploadId", handleStatus(svc))
}
