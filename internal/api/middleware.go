package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger emits one zerolog event per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		default:
			event = log.Debug()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if id := c.GetHeader(types.HeaderUploadID); id != "" {
			event = event.Str("session_id", id)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.Msg("request handled")
	}
}

// BodyLimit caps the request body at limit bytes
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			log.Warn().
				Int64("content_length", c.Request.ContentLength).
				Int64("limit", limit).
				Str("path", c.Request.URL.Path).
				Msg("request body too large")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, types.ErrorResponse{
				Error: "request body too large",
				Code:  "PAYLOAD_TOO_LARGE",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Content-Encoding, Accept-Encoding, uploadId, index, X-Chunk-Checksum, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
