package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dotabank/dotabank/internal/api/middleware"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/dotabank/dotabank/internal/steam"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrReplayNotFound),
		errors.Is(err, repository.ErrWorkerNotFound),
		errors.Is(err, steam.ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrWorkerExists),
		errors.Is(err, service.ErrTransitionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, service.ErrInvariant),
		errors.Is(err, service.ErrArchiveMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrQueueWrite),
		errors.Is(err, steam.ErrUnavailable),
		errors.Is(err, steam.ErrMatchMismatch):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func replayIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid replay id"})
		return 0, false
	}
	return id, true
}
