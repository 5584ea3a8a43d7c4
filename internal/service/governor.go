package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/metrics"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// GovernorConfig holds per-worker limits over the trailing window.
type GovernorConfig struct {
	Window   time.Duration
	CacheTTL time.Duration
	Limits   map[domain.JobType]int64
}

type countKey struct {
	workerID uint
	jobType  domain.JobType
	window   time.Duration
}

// RateGovernor reports how much of the fleet's daily quota has been used.
// It is advisory: nothing is refused on its account.
type RateGovernor struct {
	store   *repository.Store
	cfg     GovernorConfig
	counts  *expirable.LRU[countKey, int64]
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRateGovernor creates a governor. m may be nil.
func NewRateGovernor(store *repository.Store, cfg GovernorConfig, m *metrics.Metrics) *RateGovernor {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &RateGovernor{
		store:   store,
		cfg:     cfg,
		counts:  expirable.NewLRU[countKey, int64](4096, nil, cfg.CacheTTL),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Limit returns the per-worker limit for jobType; unknown types have none.
func (g *RateGovernor) Limit(jobType domain.JobType) int64 {
	return g.cfg.Limits[jobType]
}

// JobsProcessed counts the jobs of jobType workerID reported within window.
// Zero window means the configured default. Results are cached.
func (g *RateGovernor) JobsProcessed(ctx context.Context, workerID uint, jobType domain.JobType, window time.Duration) (int64, error) {
	if window <= 0 {
		window = g.cfg.Window
	}
	key := countKey{workerID: workerID, jobType: jobType, window: window}
	if n, ok := g.counts.Get(key); ok {
		return n, nil
	}

	n, err := g.store.Jobs.CountForWorker(ctx, workerID, jobType, g.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs for worker %d: %w", workerID, err)
	}
	g.counts.Add(key, n)
	return n, nil
}

// FleetCapacity is the per-worker limit times the number of registered workers.
func (g *RateGovernor) FleetCapacity(ctx context.Context, jobType domain.JobType) (int64, error) {
	workers, err := g.store.Workers.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count workers: %w", err)
	}
	return g.Limit(jobType) * workers, nil
}

// FleetLoadPercent is 100 × Σ jobs processed / fleet capacity. An empty fleet
// or a type without a limit reports 0.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobType: job type to measure.
// Returns:
//   - float64: load in percent; may exceed 100.
//   - error: non-nil if the store cannot be read.
func (g *RateGovernor) FleetLoadPercent(ctx context.Context, jobType domain.JobType) (float64, error) {
	capacity, err := g.FleetCapacity(ctx, jobType)
	if err != nil {
		return 0, err
	}
	if capacity <= 0 {
		g.export(jobType, 0)
		return 0, nil
	}

	perWorker, err := g.store.Jobs.CountPerWorker(ctx, jobType, g.now().Add(-g.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s jobs: %w", jobType, err)
	}
	var processed int64
	for workerID, n := range perWorker {
		g.counts.Add(countKey{workerID: workerID, jobType: jobType, window: g.cfg.Window}, n)
		processed += n
	}

	load := 100 * float64(processed) / float64(capacity)
	g.export(jobType, load)
	return load, nil
}

// Remaining is the quota workerID has left for jobType; never negative.
func (g *RateGovernor) Remaining(ctx context.Context, workerID uint, jobType domain.JobType) (int64, error) {
	n, err := g.JobsProcessed(ctx, workerID, jobType, 0)
	if err != nil {
		return 0, err
	}
	left := g.Limit(jobType) - n
	if left < 0 {
		left = 0
	}
	return left, nil
}

// FleetStatus is one row of the fleet overview.
type FleetStatus struct {
	JobType     domain.JobType `json:"job_type"`
	Limit       int64          `json:"limit_per_worker"`
	Capacity    int64          `json:"capacity"`
	LoadPercent float64        `json:"load_percent"`
}

// Overview reports load for every limited job type.
func (g *RateGovernor) Overview(ctx context.Context) ([]FleetStatus, error) {
	var out []FleetStatus
	for _, jt := range []domain.JobType{domain.JobMatchRequest, domain.JobProfileRequest, domain.JobDownloadRequest} {
		capacity, err := g.FleetCapacity(ctx, jt)
		if err != nil {
			return nil, err
		}
		load, err := g.FleetLoadPercent(ctx, jt)
		if err != nil {
			return nil, err
		}
		out = append(out, FleetStatus{JobType: jt, Limit: g.Limit(jt), Capacity: capacity, LoadPercent: load})
	}
	return out, nil
}

// Forget drops the cached counts of workerID for jobType, across windows.
func (g *RateGovernor) Forget(workerID uint, jobType domain.JobType) {
	for _, k := range g.counts.Keys() {
		if k.workerID == workerID && k.jobType == jobType {
			g.counts.Remove(k)
		}
	}
}

// Refresh drops every cached count.
func (g *RateGovernor) Refresh() {
	g.counts.Purge()
}

func (g *RateGovernor) export(jobType domain.JobType, load float64) {
	if g.metrics != nil {
		g.metrics.SetFleetLoad(string(jobType), load)
	}
}
