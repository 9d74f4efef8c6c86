package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// Middleware injects a request-scoped logger (request_id, and call_sid for provider
// webhooks) and logs one summary line per request.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		if strings.HasPrefix(c.Request.URL.Path, "/webhooks/") {
			if sid := c.Request.PostFormValue("CallSid"); sid != "" {
				reqLogger = reqLogger.With("call_sid", sid)
			}
		}
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
			reqLogger.Error("request", attrs...)
			return
		}
		reqLogger.Info("request", attrs...)
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
