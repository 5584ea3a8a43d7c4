package api

import (
	"net/http"

	"github.com/dotabank/dotabank/internal/api/handler"
	"github.com/dotabank/dotabank/internal/api/middleware"
	"github.com/dotabank/dotabank/internal/config"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/queue"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/gin-gonic/gin"
)

// Services is everything the router wires into handlers.
type Services struct {
	Store        *repository.Store
	Queues       queue.Set
	Dispatcher   *service.Dispatcher
	StateMachine *service.StateMachine
	Governor     *service.RateGovernor
	Sweeper      *service.Sweeper
	Registry     *service.WorkerRegistry
	Ingest       *service.IngestService
	Heroes       *service.HeroCatalog
	Health       map[string]handler.Pinger
	Metrics      http.Handler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.Config, log *logger.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	healthHandler := handler.NewHealthHandler(svc.Health)
	replayHandler := handler.NewReplayHandler(svc.Store, svc.Ingest, svc.Heroes)
	workerHandler := handler.NewWorkerHandler(svc.Queues, svc.StateMachine, svc.Governor, cfg.Queue.PopTimeout)
	adminHandler := handler.NewAdminHandler(handler.AdminDeps{
		Store:      svc.Store,
		Dispatcher: svc.Dispatcher,
		Governor:   svc.Governor,
		Sweeper:    svc.Sweeper,
		Registry:   svc.Registry,
		Ingest:     svc.Ingest,
		Heroes:     svc.Heroes,
	})

	r.GET("/health", healthHandler.Health)
	if svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(svc.Metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", replayHandler.Submit)
		v1.GET("/replays", replayHandler.ListReplays)
		v1.GET("/replays/:id", replayHandler.GetReplay)
		v1.GET("/heroes", replayHandler.ListHeroes)
		v1.GET("/heroes/:id", replayHandler.GetHero)
		v1.GET("/stats", replayHandler.Stats)
	}

	worker := r.Group("/api/worker")
	worker.Use(middleware.WorkerAuth(svc.Registry, service.ErrUnauthorized))
	{
		worker.POST("/jobs/:queue/next", workerHandler.NextJob)
		worker.POST("/replays/:id/metadata", workerHandler.ReportMetadata)
		worker.POST("/replays/:id/claim", workerHandler.ClaimDownload)
		worker.POST("/replays/:id/download", workerHandler.ReportDownload)
		worker.GET("/quota", workerHandler.Quota)
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminAuth(cfg.Server.AdminToken))
	{
		admin.POST("/replays/:id/metadata", adminHandler.EnqueueMetadata)
		admin.POST("/replays/:id/download", adminHandler.EnqueueDownload)
		admin.DELETE("/replays/:id/players", adminHandler.DeleteRoster)
		admin.GET("/replays/:id/history", adminHandler.GetReplayHistory)
		admin.GET("/fleet", adminHandler.FleetLoad)
		admin.POST("/sweeps/:check", adminHandler.RunSweep)
		admin.GET("/workers", adminHandler.ListWorkers)
		admin.POST("/workers", adminHandler.RegisterWorker)
		admin.DELETE("/workers/:id", adminHandler.DeregisterWorker)
		admin.POST("/caches/refresh", adminHandler.RefreshCaches)
		admin.POST("/ingest", adminHandler.TriggerIngest)
		admin.GET("/ingest", adminHandler.GetIngestStatus)
	}

	return r
}
