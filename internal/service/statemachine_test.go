package service

import (
	"testing"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")

	require.NoError(t, env.dispatcher.Create(env.ctx, &domain.Replay{ID: 900, MatchMetadata: domain.MatchMetadata{HumanPlayers: 9}}))

	got, err := env.machine.ReportMetadata(env.ctx, w.ID, 900, MetadataReport{
		Success:     true,
		ReplayState: domain.FileAvailable,
		Players:     roster(9, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingDownload, got.State)
	assert.Equal(t, domain.FileAvailable, got.ReplayState)
	assert.NotNil(t, got.GCDoneTime)
	assert.Equal(t, []int64{900}, env.dl.ids())

	players, err := env.store.Players.ListByReplay(env.ctx, 900)
	require.NoError(t, err)
	assert.Len(t, players, 10)

	got, err = env.machine.ClaimDownload(env.ctx, w.ID, 900)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloadInProgress, got.State)

	_, err = env.machine.ClaimDownload(env.ctx, w.ID, 900)
	assert.ErrorIs(t, err, ErrTransitionConflict)

	env.upload(t, domain.ReplayKey(900), 2048)
	got, err = env.machine.ReportDownload(env.ctx, w.ID, 900, DownloadReport{Success: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, got.State)
	require.NotNil(t, got.LocalURI)
	assert.Equal(t, "replays/900.dem.bz2", *got.LocalURI)
	assert.NotNil(t, got.DLDoneTime)
	assert.NoError(t, got.CheckInvariant())

	jobs, err := env.store.Jobs.ListForReplay(env.ctx, 900)
	require.NoError(t, err)
	var owned []domain.JobType
	for _, j := range jobs {
		if j.WorkerID != nil {
			assert.Equal(t, w.ID, *j.WorkerID)
			owned = append(owned, j.Type)
		}
	}
	assert.Equal(t, []domain.JobType{domain.JobMatchRequest, domain.JobDownloadRequest}, owned)
	assert.Len(t, jobs, 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("DOWNLOAD_IN_PROGRESS", "ARCHIVED")))
}

func TestReportsAckQueueLeases(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")
	require.NoError(t, env.dispatcher.Create(env.ctx, &domain.Replay{ID: 910, MatchMetadata: domain.MatchMetadata{HumanPlayers: 1}}))

	msg, err := env.meta.Pop(env.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(910), msg.ReplayID)

	_, err = env.machine.ReportMetadata(env.ctx, w.ID, 910, MetadataReport{ReplayState: "SOMETHING_ELSE"})
	require.Error(t, err)
	assert.Empty(t, env.meta.ackedIDs(), "rejected report keeps the lease")

	_, err = env.machine.ReportMetadata(env.ctx, w.ID, 910, MetadataReport{
		Success:     true,
		ReplayState: domain.FileAvailable,
		Players:     roster(1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{910}, env.meta.ackedIDs())
	leased, err := env.meta.Leased(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, leased)

	// A duplicate delivery reported late is stale, and still acked.
	_, err = env.machine.ReportMetadata(env.ctx, w.ID, 910, MetadataReport{Success: false})
	assert.ErrorIs(t, err, ErrTransitionConflict)
	assert.Equal(t, []int64{910, 910}, env.meta.ackedIDs())

	_, err = env.dl.Pop(env.ctx, 0)
	require.NoError(t, err)
	_, err = env.machine.ClaimDownload(env.ctx, w.ID, 910)
	require.NoError(t, err)
	assert.Equal(t, []int64{910}, env.dl.ackedIDs())
	n, err := env.dl.Reclaim(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReportMetadataFailure(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")
	env.seed(t, &domain.Replay{ID: 10, State: domain.StatusWaitingGC})

	got, err := env.machine.ReportMetadata(env.ctx, w.ID, 10, MetadataReport{Success: false, Error: "timeout"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGCError, got.State)
	assert.Equal(t, 1, got.GCFails)
	assert.Equal(t, domain.FileUnknown, got.ReplayState)
	assert.Nil(t, got.GCDoneTime)
	assert.Empty(t, env.dl.ids())
}

func TestReportMetadataReplayNotRecorded(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")
	env.seed(t, &domain.Replay{ID: 11, State: domain.StatusWaitingGC})

	got, err := env.machine.ReportMetadata(env.ctx, w.ID, 11, MetadataReport{
		Success:     true,
		ReplayState: domain.FileNotRecorded,
		Players:     roster(10, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGCError, got.State)
	assert.Equal(t, domain.FileNotRecorded, got.ReplayState)
	assert.Equal(t, 0, got.GCFails)
	assert.NotNil(t, got.GCDoneTime)
}

func TestReportMetadataStale(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")
	env.seed(t, &domain.Replay{ID: 12, State: domain.StatusWaitingDownload})

	_, err := env.machine.ReportMetadata(env.ctx, w.ID, 12, MetadataReport{Success: true, ReplayState: domain.FileAvailable})
	assert.ErrorIs(t, err, ErrTransitionConflict)

	_, err = env.machine.ReportMetadata(env.ctx, w.ID, 12, MetadataReport{Success: false})
	assert.ErrorIs(t, err, ErrTransitionConflict)

	assert.Empty(t, env.dl.ids())
	jobs, err := env.store.Jobs.ListForReplay(env.ctx, 12)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReportMetadataRollsBackWhenDownloadQueueIsDown(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "gc-1")
	env.seed(t, &domain.Replay{ID: 13, State: domain.StatusWaitingGC})
	env.dl.failWith(-1)

	_, err := env.machine.ReportMetadata(env.ctx, w.ID, 13, MetadataReport{
		Success:     true,
		ReplayState: domain.FileAvailable,
		Players:     roster(10, 0),
	})
	assert.ErrorIs(t, err, ErrQueueWrite)

	got := env.get(t, 13)
	assert.Equal(t, domain.StatusWaitingGC, got.State)
	assert.Nil(t, got.GCDoneTime)

	players, err := env.store.Players.ListByReplay(env.ctx, 13)
	require.NoError(t, err)
	assert.Empty(t, players)

	n, err := env.store.Jobs.CountForWorker(env.ctx, w.ID, domain.JobMatchRequest, got.AddedToSiteTime.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReportDownloadFailure(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "dl-1")
	env.seed(t, &domain.Replay{ID: 14, State: domain.StatusDownloadInProgress, ReplayState: domain.FileAvailable})

	got, err := env.machine.ReportDownload(env.ctx, w.ID, 14, DownloadReport{Success: false, Error: "404 from replay host"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloadError, got.State)
	assert.Equal(t, 1, got.DLFails)
	assert.Nil(t, got.LocalURI)
}

func TestReportDownloadWithoutArchive(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t, "dl-1")
	env.seed(t, &domain.Replay{ID: 15, State: domain.StatusDownloadInProgress})

	_, err := env.machine.ReportDownload(env.ctx, w.ID, 15, DownloadReport{Success: true})
	assert.ErrorIs(t, err, ErrArchiveMissing)
	assert.Equal(t, domain.StatusDownloadInProgress, env.get(t, 15).State)
}

func TestApply(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &domain.Replay{ID: 16, State: domain.StatusDownloadInProgress})

	_, err := Apply(env.ctx, env.store, 16, domain.StatusArchived, Patch{})
	assert.ErrorIs(t, err, ErrInvariant)

	uri := domain.ReplayKey(16)
	_, err = Apply(env.ctx, env.store, 16, domain.StatusDownloadError, Patch{LocalURI: &uri})
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = Apply(env.ctx, env.store, 16, domain.StatusGCError, Patch{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = Apply(env.ctx, env.store, 17, domain.StatusGCError, Patch{})
	assert.ErrorIs(t, err, repository.ErrReplayNotFound)

	got, err := Apply(env.ctx, env.store, 16, domain.StatusArchived, Patch{LocalURI: &uri})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestApplyRefusesWaitingStates(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &domain.Replay{ID: 7, State: domain.StatusGCError, GCFails: 3})
	env.seed(t, &domain.Replay{ID: 8, State: domain.StatusDownloadError, ReplayState: domain.FileAvailable})

	_, err := Apply(env.ctx, env.store, 7, domain.StatusWaitingGC, Patch{})
	assert.ErrorIs(t, err, ErrDispatchRequired)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = Apply(env.ctx, env.store, 8, domain.StatusWaitingDownload, Patch{})
	assert.ErrorIs(t, err, ErrDispatchRequired)

	got := env.get(t, 7)
	assert.Equal(t, domain.StatusGCError, got.State)
	assert.Equal(t, 3, got.GCFails)
	assert.Zero(t, got.Version)
	assert.Equal(t, domain.StatusDownloadError, env.get(t, 8).State)

	for _, id := range []int64{7, 8} {
		jobs, err := env.store.Jobs.ListForReplay(env.ctx, id)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	}
	assert.Empty(t, env.meta.ids())
	assert.Empty(t, env.dl.ids())
}

func TestIllegalTransitionNamesAllowedTargets(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &domain.Replay{ID: 9, State: domain.StatusGCError})

	_, err := Apply(env.ctx, env.store, 9, domain.StatusArchived, Patch{LocalURI: strPtr(domain.ReplayKey(9))})
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.NotErrorIs(t, err, ErrDispatchRequired)
	assert.Contains(t, err.Error(), "allowed: [WAITING_GC]")
}

func TestTransitionLosesToConcurrentWriter(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &domain.Replay{ID: 18, State: domain.StatusWaitingDownload})

	stale := env.get(t, 18)
	_, err := Apply(env.ctx, env.store, 18, domain.StatusDownloadInProgress, Patch{})
	require.NoError(t, err)

	_, err = transition(env.ctx, env.store, stale, domain.StatusDownloadInProgress, Patch{})
	assert.ErrorIs(t, err, ErrTransitionConflict)
}
