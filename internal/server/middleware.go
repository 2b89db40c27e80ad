package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	obslogger "github.com/smallbiznis/allocsync/internal/observability/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestLogger logs each request with its route, status and request id.
// Probe traffic is logged at debug level.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.Error(lastErr.Err))
		}

		log := obslogger.WithContext(c.Request.Context(), base)
		switch {
		case status >= 500:
			log.Warn("http.request", fields...)
		case route == "/healthz" || route == "/readyz" || route == "/metrics":
			log.Debug("http.request", fields...)
		default:
			log.Info("http.request", fields...)
		}
	}
}
