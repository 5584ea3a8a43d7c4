package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/api/middleware"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/queue"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/gin-gonic/gin"
)

// WorkerHandler serves the authenticated worker fleet.
type WorkerHandler struct {
	queues   queue.Set
	machine  *service.StateMachine
	governor *service.RateGovernor
	maxWait  time.Duration
}

func NewWorkerHandler(queues queue.Set, machine *service.StateMachine, governor *service.RateGovernor, maxWait time.Duration) *WorkerHandler {
	if maxWait <= 0 {
		maxWait = 20 * time.Second
	}
	return &WorkerHandler{queues: queues, machine: machine, governor: governor, maxWait: maxWait}
}

// NextJob handles POST /api/worker/jobs/:queue/next?wait=5s. It answers 204
// when nothing arrived in time. X-Quota-Remaining tells the worker how much
// of its own daily quota is left; the job is handed out either way.
func (h *WorkerHandler) NextJob(c *gin.Context) {
	q, jobType, ok := h.queues.ByName(c.Param("queue"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue: " + c.Param("queue")})
		return
	}

	wait := h.maxWait
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait duration"})
			return
		}
		if d < wait {
			wait = d
		}
	}

	w := middleware.CurrentWorker(c)
	if left, err := h.governor.Remaining(c.Request.Context(), w.ID, jobType); err == nil {
		c.Header("X-Quota-Remaining", strconv.FormatInt(left, 10))
	}

	msg, err := q.Pop(c.Request.Context(), wait)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			c.Status(http.StatusNoContent)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ReportMetadata handles POST /api/worker/replays/:id/metadata.
func (h *WorkerHandler) ReportMetadata(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	var report service.MetadataReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := logger.SetReplayID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)
	replay, err := h.machine.ReportMetadata(ctx, middleware.CurrentWorker(c).ID, id, report)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// ClaimDownload handles POST /api/worker/replays/:id/claim.
func (h *WorkerHandler) ClaimDownload(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	ctx := logger.SetReplayID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)
	replay, err := h.machine.ClaimDownload(ctx, middleware.CurrentWorker(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// ReportDownload handles POST /api/worker/replays/:id/download.
func (h *WorkerHandler) ReportDownload(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	var report service.DownloadReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := logger.SetReplayID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)
	replay, err := h.machine.ReportDownload(ctx, middleware.CurrentWorker(c).ID, id, report)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// QuotaEntry is one job type in the quota response.
type QuotaEntry struct {
	JobType   domain.JobType `json:"job_type"`
	Limit     int64          `json:"limit"`
	Remaining int64          `json:"remaining"`
}

// Quota handles GET /api/worker/quota[?type=MATCH_REQUEST].
func (h *WorkerHandler) Quota(c *gin.Context) {
	w := middleware.CurrentWorker(c)
	types := []domain.JobType{domain.JobMatchRequest, domain.JobProfileRequest, domain.JobDownloadRequest}
	if raw := c.Query("type"); raw != "" {
		jt := domain.ParseJobType(raw)
		if jt == domain.JobUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + raw})
			return
		}
		types = []domain.JobType{jt}
	}

	var out []QuotaEntry
	for _, jt := range types {
		left, err := h.governor.Remaining(c.Request.Context(), w.ID, jt)
		if err != nil {
			respondError(c, err)
			return
		}
		out = append(out, QuotaEntry{JobType: jt, Limit: h.governor.Limit(jt), Remaining: left})
	}
	c.JSON(http.StatusOK, gin.H{"worker_id": w.ID, "quota": out})
}
