package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/metrics"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/storage"
)

// SweeperConfig tunes the reconciliation checks.
type SweeperConfig struct {
	MinReplayBytes     int64
	StuckDownloadAfter time.Duration
	BatchSize          int

	// StaleAfter is how long WAITING_GC and DOWNLOAD_IN_PROGRESS may last.
	StaleAfter time.Duration
}

// CheckReport summarizes one run of one check.
type CheckReport struct {
	Check     domain.CheckKind `json:"check"`
	Found     int              `json:"found"`
	Fixed     int              `json:"fixed"`
	Exhausted int              `json:"exhausted"`
	Failed    int              `json:"failed"`
	Duration  time.Duration    `json:"duration"`
}

// finding is one replay a check wants to repair. A non-empty state makes the
// fix conditional on the replay still being there.
type finding struct {
	replayID int64
	state    domain.ReplayStatus
	extra    domain.Extra
}

func (f finding) expect() []domain.ReplayStatus {
	if f.state == "" {
		return nil
	}
	return []domain.ReplayStatus{f.state}
}

type check struct {
	find func(ctx context.Context) ([]finding, error)
	fix  func(ctx context.Context, f finding) error
	// exhausted runs once the fix budget is spent; nil means alert only.
	exhausted func(ctx context.Context, f finding) error
}

// Sweeper finds replays whose stored state disagrees with reality and
// re-drives them through the Dispatcher. Scheduling belongs to the caller.
type Sweeper struct {
	store      *repository.Store
	dispatcher *Dispatcher
	gate       *FixGate
	archive    storage.ObjectStorage
	metrics    *metrics.Metrics
	cfg        SweeperConfig
	now        func() time.Time
}

// NewSweeper creates a Sweeper. m may be nil.
func NewSweeper(store *repository.Store, dispatcher *Dispatcher, gate *FixGate, archive storage.ObjectStorage, m *metrics.Metrics, cfg SweeperConfig) *Sweeper {
	if cfg.MinReplayBytes <= 0 {
		cfg.MinReplayBytes = 1 << 20
	}
	if cfg.StuckDownloadAfter <= 0 {
		cfg.StuckDownloadAfter = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 48 * time.Hour
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		gate:       gate,
		archive:    archive,
		metrics:    m,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunCheck runs a single check. Per-replay failures are logged and counted;
// only a failure to search for candidates is returned.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: check to run.
// Returns:
//   - *CheckReport: counts for this run.
//   - error: non-nil for an unknown kind or a failed candidate search.
func (s *Sweeper) RunCheck(ctx context.Context, kind domain.CheckKind) (*CheckReport, error) {
	c, ok := s.checks()[kind]
	if !ok {
		return nil, fmt.Errorf("unknown check %q", kind)
	}
	ctx = logger.WithField(logger.SetComponent(ctx, "sweeper"), logger.FieldCheck, kind)
	start := time.Now()
	report := &CheckReport{Check: kind}

	findings, err := c.find(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find candidates: %w", kind, err)
	}
	report.Found = len(findings)

	for _, f := range findings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.handle(ctx, kind, c, f, report)
	}

	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveCheck(string(kind), report.Duration)
	}
	logger.With(logger.Fields{
		"found":     report.Found,
		"fixed":     report.Fixed,
		"exhausted": report.Exhausted,
		"failed":    report.Failed,
	}).WithDuration(report.Duration.Milliseconds()).Info(ctx, "Check finished")
	return report, nil
}

func (s *Sweeper) handle(ctx context.Context, kind domain.CheckKind, c check, f finding, report *CheckReport) {
	ctx = logger.SetReplayID(ctx, f.replayID)

	attempt, err := s.gate.ShouldAttempt(ctx, f.replayID, kind, f.extra)
	if err != nil {
		report.Failed++
		s.observe(kind, "error")
		logger.FromContext(ctx).WithError(err).Error("Fix gate failed")
		return
	}

	if !attempt {
		report.Exhausted++
		s.observe(kind, "exhausted")
		if c.exhausted != nil {
			if err := c.exhausted(ctx, f); err != nil {
				logger.FromContext(ctx).WithError(err).Error("Failed to give up on replay")
			}
		}
		return
	}

	if err := c.fix(ctx, f); err != nil {
		report.Failed++
		s.observe(kind, "error")
		logger.FromContext(ctx).WithError(err).Warn("Fix failed")
		return
	}
	report.Fixed++
	s.observe(kind, "fixed")
}

// RunAll runs every check in order. A failing check does not stop the rest.
func (s *Sweeper) RunAll(ctx context.Context) ([]*CheckReport, error) {
	var (
		reports []*CheckReport
		errs    []error
	)
	for _, kind := range domain.AllChecks {
		report, err := s.RunCheck(ctx, kind)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// RunLoop runs RunAll every interval until ctx is done.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunAll(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Error("Sweep finished with errors")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) observe(kind domain.CheckKind, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveFix(string(kind), outcome)
	}
}

func (s *Sweeper) checks() map[domain.CheckKind]check {
	return map[domain.CheckKind]check{
		domain.CheckPlayerCountMismatch: {find: s.findPlayerCountMismatches, fix: s.refetchMetadata(true)},
		domain.CheckSmallReplay:         {find: s.findSmallReplays, fix: s.refetchMetadata(false)},
		domain.CheckMissingFile:         {find: s.findMissingFiles, fix: s.redownload, exhausted: s.expire},
		domain.CheckStuckDownload: {
			find: s.findStale(domain.StatusWaitingDownload, s.cfg.StuckDownloadAfter),
			fix:  s.redownload,
		},
		domain.CheckGCErrorRetry: {
			find: s.findByFileState(domain.StatusGCError, domain.FileUnknown),
			fix:  s.refetchMetadata(false),
		},
		domain.CheckDownloadErrorRetry: {
			find: s.findByFileState(domain.StatusDownloadError, domain.FileAvailable),
			fix:  s.redownload,
		},
		domain.CheckStaleMetadata: {
			find: s.findStale(domain.StatusWaitingGC, s.cfg.StaleAfter),
			fix:  s.refetchMetadata(false),
		},
		domain.CheckStaleDownload: {
			find: s.findStale(domain.StatusDownloadInProgress, s.cfg.StaleAfter),
			fix:  s.redownload,
		},
	}
}

func (s *Sweeper) findPlayerCountMismatches(ctx context.Context) ([]finding, error) {
	rows, err := s.store.Replays.FindPlayerCountMismatches(ctx, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	out := make([]finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, finding{replayID: r.ReplayID, extra: domain.Extra{
			"human_players": r.HumanPlayers,
			"player_count":  r.PlayerCount,
		}})
	}
	return out, nil
}

// findSmallReplays walks the archive and returns ARCHIVED replays whose object
// is below the size floor.
func (s *Sweeper) findSmallReplays(ctx context.Context) ([]finding, error) {
	objects, err := s.archive.List(ctx, domain.ReplayKeyPrefix)
	if err != nil {
		return nil, err
	}

	sizes := make(map[int64]int64)
	var ids []int64
	for _, obj := range objects {
		if obj.Size >= s.cfg.MinReplayBytes {
			continue
		}
		id, ok := domain.ParseReplayKey(obj.Key)
		if !ok {
			continue
		}
		sizes[id] = obj.Size
		ids = append(ids, id)
	}

	var out []finding
	for start := 0; start < len(ids) && len(out) < s.cfg.BatchSize; start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		replays, err := s.store.Replays.ListArchivedIn(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, r := range replays {
			out = append(out, finding{replayID: r.ID, state: r.State, extra: domain.Extra{"size": sizes[r.ID]}})
		}
	}
	if len(out) > s.cfg.BatchSize {
		out = out[:s.cfg.BatchSize]
	}
	return out, nil
}

// findMissingFiles returns ARCHIVED replays whose local_uri is not in the archive.
func (s *Sweeper) findMissingFiles(ctx context.Context) ([]finding, error) {
	objects, err := s.archive.List(ctx, domain.ReplayKeyPrefix)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		stored[obj.Key] = struct{}{}
	}

	var (
		out     []finding
		afterID int64
	)
	for len(out) < s.cfg.BatchSize {
		page, err := s.store.Replays.ListByState(ctx, domain.StatusArchived, afterID, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			afterID = r.ID
			key := domain.ReplayKey(r.ID)
			if r.IsArchived() {
				key = *r.LocalURI
			}
			if _, ok := stored[key]; !ok {
				out = append(out, finding{replayID: r.ID, state: r.State, extra: domain.Extra{"local_uri": key}})
			}
		}
	}
	if len(out) > s.cfg.BatchSize {
		out = out[:s.cfg.BatchSize]
	}
	return out, nil
}

// findStale returns replays that entered state longer than after ago. Time is
// measured from state_changed_at, so a replay that was just re-driven is not
// found again by an old gc_done_time.
func (s *Sweeper) findStale(state domain.ReplayStatus, after time.Duration) func(ctx context.Context) ([]finding, error) {
	return func(ctx context.Context) ([]finding, error) {
		replays, err := s.store.Replays.ListStale(ctx, state, s.now().Add(-after), s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		out := make([]finding, 0, len(replays))
		for _, r := range replays {
			extra := domain.Extra{"state_changed_at": r.StateChangedAt.Format(time.RFC3339)}
			if r.GCDoneTime != nil {
				extra["gc_done_time"] = r.GCDoneTime.Format(time.RFC3339)
			}
			out = append(out, finding{replayID: r.ID, state: r.State, extra: extra})
		}
		return out, nil
	}
}

func (s *Sweeper) findByFileState(state domain.ReplayStatus, fs domain.FileState) func(ctx context.Context) ([]finding, error) {
	return func(ctx context.Context) ([]finding, error) {
		replays, err := s.store.Replays.ListByStateAndFileState(ctx, state, []domain.FileState{fs}, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		out := make([]finding, 0, len(replays))
		for _, r := range replays {
			out = append(out, finding{replayID: r.ID, state: r.State, extra: domain.Extra{
				"gc_fails": r.GCFails,
				"dl_fails": r.DLFails,
			}})
		}
		return out, nil
	}
}

func (s *Sweeper) refetchMetadata(dropRoster bool) func(ctx context.Context, f finding) error {
	return func(ctx context.Context, f finding) error {
		opts := &EnqueueOptions{ExpectState: f.expect()}
		if dropRoster {
			opts.Prepare = func(ctx context.Context, tx *repository.Store, _ *domain.Replay) error {
				_, err := tx.Players.DeleteByReplay(ctx, f.replayID)
				return err
			}
		}
		_, err := s.dispatcher.EnqueueMetadataJob(ctx, f.replayID, opts)
		return err
	}
}

func (s *Sweeper) redownload(ctx context.Context, f finding) error {
	_, err := s.dispatcher.EnqueueDownloadJob(ctx, f.replayID, &EnqueueOptions{ExpectState: f.expect()})
	return err
}

// expire gives up on an archive that keeps disappearing.
func (s *Sweeper) expire(ctx context.Context, f finding) error {
	replay, err := Apply(ctx, s.store, f.replayID, domain.StatusDownloadError, Patch{
		ReplayState: fileState(domain.FileExpired),
	})
	if err != nil {
		return err
	}
	observeTransition(s.metrics, domain.StatusArchived, replay.State)
	return nil
}
