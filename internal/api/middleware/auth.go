package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/gin-gonic/gin"
)

const workerKey = "worker"

// WorkerAuthenticator checks worker credentials.
type WorkerAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.Worker, error)
}

// WorkerAuth requires HTTP Basic credentials of a registered worker.
func WorkerAuth(auth WorkerAuthenticator, unauthorized error) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="dotabank-workers"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "worker credentials required"})
			return
		}

		w, err := auth.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			if errors.Is(err, unauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			GetLogger(c).WithError(err).Error("Worker authentication failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
			return
		}

		c.Request = c.Request.WithContext(logger.SetWorkerID(c.Request.Context(), w.ID))
		c.Set(workerKey, w)
		c.Next()
	}
}

// CurrentWorker returns the worker WorkerAuth attached to the request.
func CurrentWorker(c *gin.Context) *domain.Worker {
	if v, ok := c.Get(workerKey); ok {
		if w, ok := v.(*domain.Worker); ok {
			return w
		}
	}
	return nil
}

// AdminAuth requires "Authorization: Bearer <token>". An empty token
// disables the admin surface entirely.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}
