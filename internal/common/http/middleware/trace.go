package middleware

import (
	"context"
	"strings"
	"time"

	"subwatch/pkg/utils/contextkey"
	"subwatch/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
)

// TraceContextMiddleware ensures trace and request ids are in context and response headers.
// Incoming ids are kept so a browser shim can correlate its reports with daemon logs.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = bindID(c, ctx, traceIDHeader, traceIDContextKey, contextkey.TraceID)
		ctx = bindID(c, ctx, requestIDHeader, requestIDContextKey, contextkey.RequestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bindID(c *gin.Context, ctx context.Context, header, ginKey string, ctxKey interface{}) context.Context {
	id := strings.TrimSpace(c.GetHeader(header))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(ginKey, id)
	c.Writer.Header().Set(header, id)
	return context.WithValue(ctx, ctxKey, id)
}

// RequestLogger logs one line per completed API request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Debug(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
