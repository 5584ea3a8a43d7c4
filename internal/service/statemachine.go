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

// MetadataReport is what a worker sends after a MATCH_REQUEST.
type MetadataReport struct {
	Success     bool                  `json:"success"`
	ReplayState domain.FileState      `json:"replay_state"`
	Players     []domain.ReplayPlayer `json:"players"`
	Error       string                `json:"error,omitempty"`
}

// DownloadReport is what a worker sends after a DOWNLOAD_REQUEST.
// LocalURI defaults to the canonical replay key.
type DownloadReport struct {
	Success     bool             `json:"success"`
	LocalURI    string           `json:"local_uri,omitempty"`
	ReplayState domain.FileState `json:"replay_state,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// StateMachine turns worker reports into transitions. Every report writes
// exactly one job row owned by the reporting worker, in the same transaction
// as the transition it causes.
type StateMachine struct {
	store      *repository.Store
	dispatcher *Dispatcher
	archive    storage.ObjectStorage
	governor   *RateGovernor
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewStateMachine creates a StateMachine. archive, governor and m may be nil;
// without an archive download reports are trusted as sent.
func NewStateMachine(store *repository.Store, dispatcher *Dispatcher, archive storage.ObjectStorage, governor *RateGovernor, m *metrics.Metrics) *StateMachine {
	return &StateMachine{
		store:      store,
		dispatcher: dispatcher,
		archive:    archive,
		governor:   governor,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ClaimDownload leases a WAITING_DOWNLOAD replay to a worker. A replay that
// was already claimed returns ErrTransitionConflict. The claim writes no job
// row; the quota is charged when the download is reported. The queue message
// is acked once the claim is decided.
func (m *StateMachine) ClaimDownload(ctx context.Context, workerID uint, replayID int64) (*domain.Replay, error) {
	ctx = logger.SetWorkerID(logger.SetReplayID(ctx, replayID), workerID)
	after, err := m.claimDownload(ctx, replayID)
	m.settle(ctx, domain.JobDownloadRequest, replayID, err)
	return after, err
}

func (m *StateMachine) claimDownload(ctx context.Context, replayID int64) (*domain.Replay, error) {
	var after *domain.Replay
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Replays.Get(ctx, replayID)
		if err != nil {
			return err
		}
		if current.State != domain.StatusWaitingDownload {
			return fmt.Errorf("%w: replay %d is %s", ErrTransitionConflict, replayID, current.State)
		}
		after, err = transition(ctx, tx, current, domain.StatusDownloadInProgress, Patch{})
		return err
	})
	if err != nil {
		return nil, err
	}

	observeTransition(m.metrics, domain.StatusWaitingDownload, domain.StatusDownloadInProgress)
	logger.CtxInfo(ctx, "Download claimed")
	return after, nil
}

// ReportMetadata records a MATCH_REQUEST outcome for a WAITING_GC replay.
// A successful report with an available file stores the roster and hands the
// replay to the download queue; anything else lands in GC_ERROR.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - workerID: reporting worker.
//   - replayID: replay the report is about.
//   - report: worker result.
// Returns:
//   - *domain.Replay: replay after the transition.
//   - error: ErrTransitionConflict for stale reports, *EnqueueError if the download could not be queued.
func (m *StateMachine) ReportMetadata(ctx context.Context, workerID uint, replayID int64, report MetadataReport) (*domain.Replay, error) {
	ctx = logger.SetWorkerID(logger.SetReplayID(ctx, replayID), workerID)
	after, err := m.reportMetadata(ctx, workerID, replayID, report)
	m.settle(ctx, domain.JobMatchRequest, replayID, err)
	if err == nil {
		m.charge(workerID, domain.JobMatchRequest)
	}
	return after, err
}

func (m *StateMachine) reportMetadata(ctx context.Context, workerID uint, replayID int64, report MetadataReport) (*domain.Replay, error) {
	now := m.now()

	state := report.ReplayState
	if state == "" {
		state = domain.FileUnknown
	}
	if !state.Valid() {
		return nil, fmt.Errorf("unknown replay_state %q", state)
	}

	if report.Success && state == domain.FileAvailable {
		after, err := m.dispatcher.EnqueueDownloadJob(ctx, replayID, &EnqueueOptions{
			ExpectState: []domain.ReplayStatus{domain.StatusWaitingGC},
			Patch:       Patch{ReplayState: fileState(state), GCDoneTime: timePtr(now)},
			Prepare: func(ctx context.Context, tx *repository.Store, _ *domain.Replay) error {
				if err := tx.Players.ReplaceRoster(ctx, replayID, report.Players); err != nil {
					return err
				}
				return m.logWork(ctx, tx, workerID, replayID, domain.JobMatchRequest, now)
			},
		})
		if err != nil {
			return nil, unwrapConflict(err)
		}
		logger.CtxInfo(ctx, "Metadata stored, download queued")
		return after, nil
	}

	patch := Patch{ReplayState: fileState(state)}
	if report.Success {
		// Metadata arrived but the file cannot be fetched.
		patch.GCDoneTime = timePtr(now)
	} else {
		patch.FailedGC = true
	}

	var after *domain.Replay
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Replays.Get(ctx, replayID)
		if err != nil {
			return err
		}
		if current.State != domain.StatusWaitingGC {
			return fmt.Errorf("%w: replay %d is %s", ErrTransitionConflict, replayID, current.State)
		}
		if report.Success {
			if err := tx.Players.ReplaceRoster(ctx, replayID, report.Players); err != nil {
				return err
			}
		}
		if err := m.logWork(ctx, tx, workerID, replayID, domain.JobMatchRequest, now); err != nil {
			return err
		}
		after, err = transition(ctx, tx, current, domain.StatusGCError, patch)
		return err
	})
	if err != nil {
		return nil, err
	}

	observeTransition(m.metrics, domain.StatusWaitingGC, domain.StatusGCError)
	logger.FromContext(ctx).WithFields(logger.Fields{
		"replay_state": state,
		"gc_fails":     after.GCFails,
		"error":        report.Error,
	}).Warn("Metadata request failed")
	return after, nil
}

// ReportDownload records a DOWNLOAD_REQUEST outcome for a DOWNLOAD_IN_PROGRESS replay.
func (m *StateMachine) ReportDownload(ctx context.Context, workerID uint, replayID int64, report DownloadReport) (*domain.Replay, error) {
	ctx = logger.SetWorkerID(logger.SetReplayID(ctx, replayID), workerID)
	after, err := m.reportDownload(ctx, workerID, replayID, report)
	if err == nil {
		m.charge(workerID, domain.JobDownloadRequest)
	}
	return after, err
}

func (m *StateMachine) reportDownload(ctx context.Context, workerID uint, replayID int64, report DownloadReport) (*domain.Replay, error) {
	now := m.now()

	to := domain.StatusDownloadError
	patch := Patch{FailedDL: true}
	if report.ReplayState != "" {
		patch.ReplayState = fileState(report.ReplayState)
	}

	if report.Success {
		uri := report.LocalURI
		if uri == "" {
			uri = domain.ReplayKey(replayID)
		}
		if m.archive != nil {
			if _, err := m.archive.Stat(ctx, uri); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, fmt.Errorf("%w: %s", ErrArchiveMissing, uri)
				}
				return nil, err
			}
		}
		to = domain.StatusArchived
		patch = Patch{LocalURI: &uri, DLDoneTime: timePtr(now)}
	}

	var after *domain.Replay
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Replays.Get(ctx, replayID)
		if err != nil {
			return err
		}
		if current.State != domain.StatusDownloadInProgress {
			return fmt.Errorf("%w: replay %d is %s", ErrTransitionConflict, replayID, current.State)
		}
		if err := m.logWork(ctx, tx, workerID, replayID, domain.JobDownloadRequest, now); err != nil {
			return err
		}
		after, err = transition(ctx, tx, current, to, patch)
		return err
	})
	if err != nil {
		return nil, err
	}

	observeTransition(m.metrics, domain.StatusDownloadInProgress, to)
	if to == domain.StatusArchived {
		logger.CtxInfo(ctx, "Replay archived at %s", *after.LocalURI)
	} else {
		logger.FromContext(ctx).WithFields(logger.Fields{
			"dl_fails": after.DLFails,
			"error":    report.Error,
		}).Warn("Download failed")
	}
	return after, nil
}

func (m *StateMachine) logWork(ctx context.Context, tx *repository.Store, workerID uint, replayID int64, jobType domain.JobType, at time.Time) error {
	wid, rid := workerID, replayID
	return tx.Jobs.Append(ctx, &domain.Job{WorkerID: &wid, Type: jobType, ReplayID: &rid, Timestamp: at})
}

// charge makes the worker's next quota read see the job row just committed.
func (m *StateMachine) charge(workerID uint, jobType domain.JobType) {
	if m.governor != nil {
		m.governor.Forget(workerID, jobType)
	}
}

// settle releases the queue lease once a report has a final answer. Other
// failures keep the lease, and the message is redelivered when it expires.
func (m *StateMachine) settle(ctx context.Context, jobType domain.JobType, replayID int64, err error) {
	if err == nil || errors.Is(err, ErrTransitionConflict) || errors.Is(err, repository.ErrReplayNotFound) {
		m.dispatcher.Release(ctx, jobType, replayID)
	}
}

// unwrapConflict surfaces a stale-report conflict from inside an EnqueueError
// so callers see the same error for every report kind.
func unwrapConflict(err error) error {
	if errors.Is(err, ErrTransitionConflict) {
		var ee *EnqueueError
		if errors.As(err, &ee) {
			return ee.Err
		}
	}
	return err
}
