package handler

import (
	"net/http"
	"strconv"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/gin-gonic/gin"
)

// ReplayHandler serves the public replay endpoints.
type ReplayHandler struct {
	store  *repository.Store
	ingest *service.IngestService
	heroes *service.HeroCatalog
}

func NewReplayHandler(store *repository.Store, ingest *service.IngestService, heroes *service.HeroCatalog) *ReplayHandler {
	return &ReplayHandler{store: store, ingest: ingest, heroes: heroes}
}

// SubmitRequest is the body of POST /api/v1/search.
type SubmitRequest struct {
	MatchID int64 `json:"match_id" binding:"required,min=1"`
}

// Submit handles POST /api/v1/search. It answers 201 when the replay was
// created and 200 when it already existed.
func (h *ReplayHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	replay, created, err := h.ingest.Submit(c.Request.Context(), req.MatchID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"replay": replay, "created": created})
}

// GetReplay handles GET /api/v1/replays/:id.
func (h *ReplayHandler) GetReplay(c *gin.Context) {
	id, ok := replayIDParam(c)
	if !ok {
		return
	}
	replay, err := h.store.Replays.GetWithPlayers(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, replay)
}

// ListReplays handles GET /api/v1/replays?state=ARCHIVED&after=<id>&limit=50.
func (h *ReplayHandler) ListReplays(c *gin.Context) {
	state := domain.ReplayStatus(c.DefaultQuery("state", string(domain.StatusArchived)))
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state: " + string(state)})
		return
	}
	after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	replays, err := h.store.Replays.ListByState(c.Request.Context(), state, after, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"replays": replays, "count": len(replays)}
	if len(replays) == limit {
		resp["next_after"] = replays[len(replays)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

// ListHeroes handles GET /api/v1/heroes.
func (h *ReplayHandler) ListHeroes(c *gin.Context) {
	heroes, err := h.heroes.All(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"heroes": heroes})
}

// Stats handles GET /api/v1/stats.
func (h *ReplayHandler) Stats(c *gin.Context) {
	counts, err := h.store.Replays.CountByState(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replays_by_state": counts})
}

// GetHero handles GET /api/v1/heroes/:id.
func (h *ReplayHandler) GetHero(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hero id"})
		return
	}
	hero, ok, err := h.heroes.Lookup(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "hero not found"})
		return
	}
	c.JSON(http.StatusOK, hero)
}
