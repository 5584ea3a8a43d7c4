package middleware

import (
	"time"

	"github.com/dotabank/dotabank/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestLogger tags every request with a request id and logs its outcome.
// An incoming X-Request-ID is kept so worker logs can be correlated.
// Parameters:
//   - log: base logger the request logger derives from.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := log.WithContext(c.Request.Context())
		ctx = logger.WithFields(ctx, logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		entry := logger.With(logger.Fields{
			logger.FieldStatus:     status,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		})
		// Handlers may have added fields (worker id, replay id) to the context.
		ctx = c.Request.Context()
		switch {
		case status >= 500:
			entry.Error(ctx, "%s %s", c.Request.Method, c.FullPath())
		case status >= 400:
			entry.Warn(ctx, "%s %s", c.Request.Method, c.FullPath())
		default:
			entry.Info(ctx, "%s %s", c.Request.Method, c.FullPath())
		}
	}
}

// GetLogger returns the request-scoped logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get(loggerKey); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
