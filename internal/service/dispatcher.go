package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/metrics"
	"github.com/dotabank/dotabank/internal/queue"
	"github.com/dotabank/dotabank/internal/repository"
)

// DispatcherConfig bounds queue writes.
type DispatcherConfig struct {
	WriteTimeout   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// Dispatcher pairs every entry into WAITING_GC or WAITING_DOWNLOAD with one
// queued job. The transition, the job log row and the queue write share a
// transaction; the queue write goes last, so a failed write rolls the
// transition back.
type Dispatcher struct {
	store   *repository.Store
	queues  queue.Set
	metrics *metrics.Metrics
	cfg     DispatcherConfig
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(store *repository.Store, queues queue.Set, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	return &Dispatcher{
		store:   store,
		queues:  queues,
		metrics: m,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueOptions extends a dispatch with work done in the same transaction.
type EnqueueOptions struct {
	// Patch is applied together with the transition.
	Patch Patch

	// ExpectState rejects the dispatch with ErrTransitionConflict unless the
	// replay currently sits in one of these states. Empty accepts any legal source.
	ExpectState []domain.ReplayStatus

	// Prepare runs inside the transaction before the transition.
	Prepare func(ctx context.Context, tx *repository.Store, replay *domain.Replay) error
}

// Create inserts replay in WAITING_GC and queues its metadata job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - replay: new replay; ID and match metadata must be set.
// Returns:
//   - error: *EnqueueError; repository.ErrReplayExists is reachable with errors.Is.
func (d *Dispatcher) Create(ctx context.Context, replay *domain.Replay) error {
	now := d.now()
	replay.State = domain.StatusWaitingGC
	replay.StateChangedAt = now
	replay.GCFails = 0
	replay.DLFails = 0
	replay.LocalURI = nil
	if replay.ReplayState == "" {
		replay.ReplayState = domain.FileUnknown
	}
	if replay.AddedToSiteTime.IsZero() {
		replay.AddedToSiteTime = now
	}

	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Replays.Create(ctx, replay); err != nil {
			return d.fail(replay.ID, domain.JobMatchRequest, StagePersist, err)
		}
		return d.dispatch(ctx, tx, replay.ID, domain.JobMatchRequest)
	})
	if err != nil {
		return d.wrap(replay.ID, domain.JobMatchRequest, err)
	}

	logger.With(logger.Fields{
		logger.FieldReplayID: replay.ID,
		logger.FieldJobType:  domain.JobMatchRequest,
	}).Info(ctx, "Replay created")
	return nil
}

// EnqueueMetadataJob moves the replay to WAITING_GC, resets gc_fails and
// queues a MATCH_REQUEST.
func (d *Dispatcher) EnqueueMetadataJob(ctx context.Context, replayID int64, opts *EnqueueOptions) (*domain.Replay, error) {
	return d.enqueue(ctx, replayID, domain.StatusWaitingGC, opts)
}

// EnqueueDownloadJob moves the replay to WAITING_DOWNLOAD, resets dl_fails
// and queues a DOWNLOAD_REQUEST.
func (d *Dispatcher) EnqueueDownloadJob(ctx context.Context, replayID int64, opts *EnqueueOptions) (*domain.Replay, error) {
	return d.enqueue(ctx, replayID, domain.StatusWaitingDownload, opts)
}

func (d *Dispatcher) enqueue(ctx context.Context, replayID int64, to domain.ReplayStatus, opts *EnqueueOptions) (*domain.Replay, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}
	jobType, _ := domain.EntryJob(to)

	var (
		from  domain.ReplayStatus
		after *domain.Replay
	)
	err := d.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Replays.Get(ctx, replayID)
		if err != nil {
			return d.fail(replayID, jobType, StagePersist, err)
		}
		from = current.State
		if len(opts.ExpectState) > 0 && !containsStatus(opts.ExpectState, current.State) {
			return d.fail(replayID, jobType, StagePersist,
				fmt.Errorf("%w: replay %d is %s", ErrTransitionConflict, replayID, current.State))
		}
		if opts.Prepare != nil {
			if err := opts.Prepare(ctx, tx, current); err != nil {
				return d.fail(replayID, jobType, StagePersist, err)
			}
		}
		after, err = transition(ctx, tx, current, to, opts.Patch)
		if err != nil {
			return d.fail(replayID, jobType, StagePersist, err)
		}
		return d.dispatch(ctx, tx, replayID, jobType)
	})
	if err != nil {
		return nil, d.wrap(replayID, jobType, err)
	}

	observeTransition(d.metrics, from, to)
	logger.With(logger.Fields{
		logger.FieldReplayID: replayID,
		logger.FieldJobType:  jobType,
		"from":               from,
	}).Info(ctx, "Replay re-enqueued")
	return after, nil
}

// dispatch logs the unowned job row and writes the queue message. It must be
// the last step of the transaction.
func (d *Dispatcher) dispatch(ctx context.Context, tx *repository.Store, replayID int64, jobType domain.JobType) error {
	q, ok := d.queues.For(jobType)
	if !ok {
		return d.fail(replayID, jobType, StageQueue, fmt.Errorf("no queue configured for %s", jobType))
	}

	now := d.now()
	id := replayID
	if err := tx.Jobs.Append(ctx, &domain.Job{Type: jobType, ReplayID: &id, Timestamp: now}); err != nil {
		return d.fail(replayID, jobType, StagePersist, err)
	}

	msg := queue.Message{ReplayID: replayID, Type: jobType, EnqueuedAt: now}
	if err := d.push(ctx, q, msg); err != nil {
		return d.fail(replayID, jobType, StageQueue, err)
	}
	return nil
}

// Release drops the delivery lease a worker holds on replayID's jobType
// message. A failure only delays a redelivery, so it is logged and dropped.
func (d *Dispatcher) Release(ctx context.Context, jobType domain.JobType, replayID int64) {
	q, ok := d.queues.For(jobType)
	if !ok {
		return
	}
	if err := q.Ack(ctx, replayID); err != nil {
		logger.With(logger.Fields{
			logger.FieldQueue:    q.Name(),
			logger.FieldReplayID: replayID,
		}).Warn(ctx, "Failed to release lease: %v", err)
	}
}

// push writes msg with exponential backoff, bounded by the write timeout.
func (d *Dispatcher) push(ctx context.Context, q queue.Queue, msg queue.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxElapsedTime = d.cfg.WriteTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := q.Push(ctx, msg)
		if err != nil {
			logger.With(logger.Fields{
				logger.FieldQueue:    q.Name(),
				logger.FieldReplayID: msg.ReplayID,
				"attempt":            attempt,
			}).Warn(ctx, "Queue write failed: %v", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.MaxRetries)), ctx))
}

func (d *Dispatcher) fail(replayID int64, jobType domain.JobType, stage EnqueueStage, err error) error {
	var ee *EnqueueError
	if errors.As(err, &ee) {
		return err
	}
	return &EnqueueError{ReplayID: replayID, JobType: jobType, Stage: stage, Err: err}
}

// wrap types a transaction error that escaped fail, such as a commit failure.
func (d *Dispatcher) wrap(replayID int64, jobType domain.JobType, err error) error {
	err = d.fail(replayID, jobType, StagePersist, err)
	var ee *EnqueueError
	if errors.As(err, &ee) && d.metrics != nil {
		d.metrics.ObserveEnqueueFailure(string(jobType), string(ee.Stage))
	}
	return err
}

func containsStatus(list []domain.ReplayStatus, s domain.ReplayStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func observeTransition(m *metrics.Metrics, from, to domain.ReplayStatus) {
	if m != nil {
		m.ObserveTransition(string(from), string(to))
	}
}
