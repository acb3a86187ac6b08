package middleware

import (
	"time"

	"pulsar-mailer/shared/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware returns CORS middleware with default configuration.
// Unsubscribe links are opened straight from mail clients, so the
// endpoint has to accept requests from anywhere.
func CORSMiddleware() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"X-Request-ID",
	}
	config.ExposeHeaders = []string{"X-Request-ID"}
	config.MaxAge = 12 * time.Hour

	return cors.New(config)
}

// RequestIDMiddleware generates and adds request ID to context
func RequestIDMiddleware() gin.HandlerFunc {
	return requestid.New()
}

// RecoveryMiddleware handles panics and returns proper error responses
func RecoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestID := requestid.Get(c)

		log.WithFields(map[string]interface{}{
			"request_id": requestID,
			"panic":      recovered,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		}).Error("Panic recovered")

		c.JSON(500, gin.H{
			"error":      "Internal server error",
			"request_id": requestID,
		})
	})
}

// LoggerMiddleware logs HTTP requests with request ID extraction
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(map[string]interface{}{
			"request_id":  requestid.Get(c),
			"method":      c.Request.Method,
			"path":        path,
			"status_code": c.Writer.Status(),
			"latency":     time.Since(start),
			"client_ip":   c.ClientIP(),
		}).Info("HTTP request")
	}
}
