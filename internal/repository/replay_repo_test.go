package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReplay(id int64, state domain.ReplayStatus) *domain.Replay {
	return &domain.Replay{
		ID:              id,
		State:           state,
		ReplayState:     domain.FileUnknown,
		AddedToSiteTime: time.Now().UTC(),
		MatchMetadata:   domain.MatchMetadata{HumanPlayers: 10},
	}
}

func accountID(v int64) *int64 { return &v }

func TestReplayCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)

	require.NoError(t, store.Replays.Create(ctx, newReplay(100, domain.StatusWaitingGC)))
	assert.ErrorIs(t, store.Replays.Create(ctx, newReplay(100, domain.StatusWaitingGC)), repository.ErrReplayExists)

	got, err := store.Replays.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingGC, got.State)
	assert.Equal(t, 10, got.HumanPlayers)

	_, err = store.Replays.Get(ctx, 101)
	assert.ErrorIs(t, err, repository.ErrReplayNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	require.NoError(t, store.Replays.Create(ctx, newReplay(7, domain.StatusWaitingGC)))

	ok, err := store.Replays.CompareAndSwap(ctx, 7, domain.StatusWaitingGC, 0, map[string]interface{}{
		"state": domain.StatusWaitingDownload,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale version loses.
	ok, err = store.Replays.CompareAndSwap(ctx, 7, domain.StatusWaitingDownload, 0, map[string]interface{}{
		"state": domain.StatusDownloadInProgress,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Replays.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingDownload, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)

	err := store.Transaction(ctx, func(tx *repository.Store) error {
		require.NoError(t, tx.Replays.Create(ctx, newReplay(55, domain.StatusWaitingGC)))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	exists, err := store.Replays.Exists(ctx, 55)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFindPlayerCountMismatches(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)

	full := newReplay(1, domain.StatusArchived)
	full.HumanPlayers = 2
	short := newReplay(2, domain.StatusWaitingDownload)
	short.HumanPlayers = 2
	errored := newReplay(3, domain.StatusGCError)
	errored.HumanPlayers = 2
	for _, r := range []*domain.Replay{full, short, errored} {
		require.NoError(t, store.Replays.Create(ctx, r))
	}

	require.NoError(t, store.Players.ReplaceRoster(ctx, 1, []domain.ReplayPlayer{
		{AccountID: accountID(11), PlayerSlot: 0},
		{AccountID: accountID(12), PlayerSlot: 128},
		{PlayerSlot: 1}, // bot
	}))
	require.NoError(t, store.Players.ReplaceRoster(ctx, 2, []domain.ReplayPlayer{
		{AccountID: accountID(21), PlayerSlot: 0},
	}))

	rows, err := store.Replays.FindPlayerCountMismatches(ctx, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, repository.PlayerCountMismatch{ReplayID: 2, HumanPlayers: 2, PlayerCount: 1}, rows[0])
}

func TestListStale(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	stuck := newReplay(1, domain.StatusWaitingDownload)
	stuck.GCDoneTime = timeAgo(now, 30*time.Hour)
	stuck.StateChangedAt = *timeAgo(now, 30*time.Hour)

	fresh := newReplay(2, domain.StatusWaitingDownload)
	fresh.GCDoneTime = timeAgo(now, time.Hour)
	fresh.StateChangedAt = *timeAgo(now, 30*time.Hour)

	// Old metadata, but re-entered the state an hour ago.
	redriven := newReplay(3, domain.StatusWaitingDownload)
	redriven.GCDoneTime = timeAgo(now, 30*time.Hour)
	redriven.StateChangedAt = *timeAgo(now, time.Hour)

	waiting := newReplay(4, domain.StatusWaitingGC)
	waiting.AddedToSiteTime = *timeAgo(now, 30*time.Hour)
	waiting.StateChangedAt = waiting.AddedToSiteTime

	for _, r := range []*domain.Replay{stuck, fresh, redriven, waiting} {
		require.NoError(t, store.Replays.Create(ctx, r))
	}

	rows, err := store.Replays.ListStale(ctx, domain.StatusWaitingDownload, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].ID)

	rows, err = store.Replays.ListStale(ctx, domain.StatusWaitingGC, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].ID)
}

func timeAgo(now time.Time, d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestCountByState(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	require.NoError(t, store.Replays.Create(ctx, newReplay(1, domain.StatusWaitingGC)))
	require.NoError(t, store.Replays.Create(ctx, newReplay(2, domain.StatusWaitingGC)))
	require.NoError(t, store.Replays.Create(ctx, newReplay(3, domain.StatusGCError)))

	counts, err := store.Replays.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.StatusWaitingGC])
	assert.Equal(t, int64(1), counts[domain.StatusGCError])
}
