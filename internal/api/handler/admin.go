package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler handles operator actions.
type AdminHandler struct {
	store      *repository.Store
	dispatcher *service.Dispatcher
	governor   *service.RateGovernor
	sweeper    *service.Sweeper
	registry   *service.WorkerRegistry
	ingest     *service.IngestService
	heroes     *service.HeroCatalog

	// Ingest job state
	mu            sync.Mutex
	isRunning     bool
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// AdminDeps bundles the services the admin surface drives.
type AdminDeps struct {
	Store      *repository.Store
	Dispatcher *service.Dispatcher
	Governor   *service.RateGovernor
	Sweeper    *service.Sweeper
	Registry   *service.WorkerRegistry
	Ingest     *service.IngestService
	Heroes     *service.HeroCatalog
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		governor:   deps.Governor,
		sweeper:    deps.Sweeper,
		registry:   deps.Registry,
		ingest:     deps.Ingest,
		heroes:     deps.Heroes,
	}
}

// EnqueueMetadata handles POST /api/admin/replays/:id/metadata.
func (h *AdminHandler) EnqueueMetadata(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	replay, err := h.dispatcher.EnqueueMetadataJob(c.Request.Context(), id, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// EnqueueDownload handles POST /api/admin/replays/:id/download.
func (h *AdminHandler) EnqueueDownload(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	replay, err := h.dispatcher.EnqueueDownloadJob(c.Request.Context(), id, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// DeleteRoster handles DELETE /api/admin/replays/:id/players.
func (h *AdminHandler) DeleteRoster(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.Replays.Get(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	n, err := h.store.Players.DeleteByReplay(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.With(logger.Fields{logger.FieldReplayID: id}).WithCount(int(n)).Info(ctx, "Roster deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// GetReplayHistory handles GET /api/admin/replays/:id/history.
func (h *AdminHandler) GetReplayHistory(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	jobs, err := h.store.Jobs.ListForReplay(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	fixes, err := h.store.FixAttempts.ListForReplay(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "fix_attempts": fixes})
}

// FleetLoad handles GET /api/admin/fleet.
func (h *AdminHandler) FleetLoad(c *gin.Context) {
	rows, err := h.governor.Overview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fleet": rows})
}

// RunSweep handles POST /api/admin/sweeps/:check; "all" runs every check.
func (h *AdminHandler) RunSweep(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("check")
	if name == "all" {
		reports, err := h.sweeper.RunAll(ctx)
		if err != nil {
			// Checks that did run still report.
			c.JSON(http.StatusInternalServerError, gin.H{"reports": reports, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
		return
	}

	kind, ok := domain.ParseCheckKind(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown check: " + name})
		return
	}
	report, err := h.sweeper.RunCheck(ctx, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RegisterWorkerRequest is the body of POST /api/admin/workers.
type RegisterWorkerRequest struct {
	Username    string `json:"username" binding:"required,max=64"`
	DisplayName string `json:"display_name" binding:"max=128"`
}

// RegisterWorker handles POST /api/admin/workers. The secret is only ever
// returned here.
func (h *AdminHandler) RegisterWorker(c *gin.Context) {
	var req RegisterWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, password, err := h.registry.Register(c.Request.Context(), req.Username, req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"worker": w, "secret": password})
}

// ListWorkers handles GET /api/admin/workers.
func (h *AdminHandler) ListWorkers(c *gin.Context) {
	workers, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// DeregisterWorker handles DELETE /api/admin/workers/:id.
func (h *AdminHandler) DeregisterWorker(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}
	if err := h.registry.Deregister(c.Request.Context(), uint(id)); err != nil {
		respondError(c, err)
		return
	}
	h.governor.Refresh()
	c.Status(http.StatusNoContent)
}

// RefreshCaches handles POST /api/admin/caches/refresh.
func (h *AdminHandler) RefreshCaches(c *gin.Context) {
	h.governor.Refresh()
	h.heroes.Refresh()
	c.JSON(http.StatusOK, gin.H{"refreshed": []string{"governor", "heroes"}})
}

// IngestRequest starts a history ingestion. Exactly one of LeagueID and
// AccountID must be set.
type IngestRequest struct {
	LeagueID  int       `json:"league_id"`
	AccountID int64     `json:"account_id"`
	Since     time.Time `json:"since"`
	Limit     int       `json:"limit" binding:"min=0,max=100000"`
}

// IngestStatusResponse represents the ingest status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
}

// TriggerIngest handles POST /api/admin/ingest. The run continues in the
// background; poll GetIngestStatus for the outcome.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.LeagueID > 0) == (req.AccountID > 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set exactly one of league_id and account_id"})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Ingest is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	// Detach from the request so the run outlives it, keeping the log fields.
	ctx := logger.FromContext(c.Request.Context()).WithContext(context.Background())
	go h.runIngest(ctx, req)

	c.JSON(http.StatusAccepted, gin.H{"message": "Ingest started"})
}

func (h *AdminHandler) runIngest(ctx context.Context, req IngestRequest) {
	opts := &service.IngestOptions{Limit: req.Limit, Since: req.Since}

	var (
		stats *service.IngestStats
		err   error
	)
	if req.LeagueID > 0 {
		stats, err = h.ingest.IngestLeague(ctx, req.LeagueID, opts)
	} else {
		stats, err = h.ingest.IngestAccount(ctx, req.AccountID, opts)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
		logger.FromContext(ctx).WithError(err).Error("Ingest failed")
		return
	}
	h.lastRunStatus = "success"
}

// GetIngestStatus handles GET /api/admin/ingest.
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
