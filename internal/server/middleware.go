package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/invoicing/pkg/log/ctxlogger"
	"github.com/smallbiznis/invoicing/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// RequestLogger tags each request with a correlation id and logs it once served.
// Probe routes are logged at debug.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(correlation.ContextWithCorrelationID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.Error(lastErr.Err))
		}

		reqLog := ctxlogger.WithContext(c.Request.Context(), log)
		switch {
		case status >= 500:
			reqLog.Error("http.request", fields...)
		case route == "/health" || route == "/ready" || route == "/metrics":
			reqLog.Debug("http.request", fields...)
		default:
			reqLog.Info("http.request", fields...)
		}
	}
}
