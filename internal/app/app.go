// Package app builds the shared service graph used by the server and the
// operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/alert"
	"github.com/dotabank/dotabank/internal/api"
	"github.com/dotabank/dotabank/internal/api/handler"
	"github.com/dotabank/dotabank/internal/config"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/metrics"
	"github.com/dotabank/dotabank/internal/queue"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/secret"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/dotabank/dotabank/internal/steam"
	"github.com/dotabank/dotabank/internal/storage"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Store   *repository.Store
	Redis   *redis.Client
	Queues  queue.Set
	Archive storage.ObjectStorage
	Steam   *steam.Client
	Metrics *metrics.Metrics
	Alerter alert.Alerter

	Dispatcher   *service.Dispatcher
	StateMachine *service.StateMachine
	Governor     *service.RateGovernor
	Sweeper      *service.Sweeper
	Registry     *service.WorkerRegistry
	Ingest       *service.IngestService
	Heroes       *service.HeroCatalog
}

// LoggerOptions maps the log section of the config onto logger options.
func LoggerOptions(cfg *config.LogConfig, service string) *logger.Options {
	return &logger.Options{
		Level:       cfg.Level,
		Format:      cfg.Format,
		ServiceName: service,
		Environment: cfg.Environment,
		File:        cfg.File,
		FileOnly:    cfg.FileOnly,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Compress:    cfg.Compress,
	}
}

// New connects to the database, Redis and object storage and builds the
// services on top of them.
// Parameters:
//   - ctx: bounds the connection checks only.
//   - cfg: loaded configuration.
// Returns:
//   - *App: the wired component graph.
//   - error: the first dependency that could not be reached.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.Store = repository.NewStore(db)

	a.Redis, err = queue.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Queues = queue.NewRedisSet(a.Redis, &cfg.Queue)

	a.Archive, err = storage.NewStorage(&cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx, a.Archive); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
	}

	box, err := secret.NewBoxFromHex(cfg.Workers.SecretKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("workers.secret_key: %w", err)
	}

	a.Alerter, err = newAlerter(&cfg.Alert)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Steam = steam.NewClient(&cfg.Steam)
	a.Dispatcher = service.NewDispatcher(a.Store, a.Queues, a.Metrics, service.DispatcherConfig{
		WriteTimeout: cfg.Queue.WriteTimeout,
		MaxRetries:   cfg.Queue.MaxRetries,
	})
	a.Governor = service.NewRateGovernor(a.Store, service.GovernorConfig{
		Window:   cfg.Governor.Window,
		CacheTTL: cfg.Governor.CacheTTL,
		Limits: map[domain.JobType]int64{
			domain.JobMatchRequest:    int64(cfg.Governor.MatchRequestLimit),
			domain.JobProfileRequest:  int64(cfg.Governor.ProfileRequestLimit),
			domain.JobDownloadRequest: int64(cfg.Governor.DownloadRequestLimit),
		},
	}, a.Metrics)
	a.StateMachine = service.NewStateMachine(a.Store, a.Dispatcher, a.Archive, a.Governor, a.Metrics)
	gate := service.NewFixGate(a.Store, a.Alerter, cfg.Sweeper.MaxFixAttempts)
	a.Sweeper = service.NewSweeper(a.Store, a.Dispatcher, gate, a.Archive, a.Metrics, service.SweeperConfig{
		MinReplayBytes:     cfg.Sweeper.MinReplayBytes,
		StuckDownloadAfter: cfg.Sweeper.StuckDownloadAfter,
		StaleAfter:         cfg.Sweeper.StaleAfter,
		BatchSize:          cfg.Sweeper.BatchSize,
	})
	a.Registry = service.NewWorkerRegistry(a.Store, box)
	a.Ingest = service.NewIngestService(a.Store, a.Steam, a.Dispatcher, nil)
	a.Heroes = service.NewHeroCatalog(a.Steam, cfg.Cache.HeroTTL)

	return a, nil
}

// newAlerter always logs alerts and also ships them to Sentry when a DSN is set.
func newAlerter(cfg *config.AlertConfig) (alert.Alerter, error) {
	if cfg.SentryDSN == "" {
		return alert.LogAlerter{}, nil
	}
	sentryAlerter, err := alert.NewSentryAlerter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return alert.Multi{alert.LogAlerter{}, sentryAlerter}, nil
}

// Services exposes the graph to the HTTP router.
func (a *App) Services() *api.Services {
	return &api.Services{
		Store:        a.Store,
		Queues:       a.Queues,
		Dispatcher:   a.Dispatcher,
		StateMachine: a.StateMachine,
		Governor:     a.Governor,
		Sweeper:      a.Sweeper,
		Registry:     a.Registry,
		Ingest:       a.Ingest,
		Heroes:       a.Heroes,
		Health: map[string]handler.Pinger{
			"database": handler.DatabasePinger(a.Store.DB()),
			"redis":    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		},
		Metrics: a.Metrics.Handler(),
	}
}

// ReportQueueDepth samples both queue lengths, and the leased count under
// <name>:leased, into the queue_depth gauge until ctx is done.
func (a *App) ReportQueueDepth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, q := range []queue.Queue{a.Queues.Metadata, a.Queues.Download} {
			if q == nil {
				continue
			}
			n, err := q.Len(ctx)
			if err != nil {
				logger.FromContext(ctx).WithError(err).Warnf("Failed to sample queue depth for %s", q.Name())
				continue
			}
			a.Metrics.SetQueueDepth(q.Name(), n)
			if n, err := q.Leased(ctx); err == nil {
				a.Metrics.SetQueueDepth(q.Name()+":leased", n)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReclaimLeases requeues messages whose consumer never acked them, every
// interval until ctx is done.
func (a *App) ReclaimLeases(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.reclaimOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) reclaimOnce(ctx context.Context) int {
	var total int
	for _, q := range []queue.Queue{a.Queues.Metadata, a.Queues.Download} {
		if q == nil {
			continue
		}
		n, err := q.Reclaim(ctx)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("Failed to reclaim leases on %s", q.Name())
			continue
		}
		if n > 0 {
			logger.FromContext(ctx).WithField(logger.FieldQueue, q.Name()).Infof("Requeued %d expired leases", n)
		}
		total += n
	}
	return total
}

// Close flushes pending alerts and closes connections.
func (a *App) Close() {
	if f, ok := a.Alerter.(alert.Flusher); ok {
		f.Flush(2 * time.Second)
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		if sqlDB, err := a.Store.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
