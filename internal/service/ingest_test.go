package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/steam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMatches serves a fixed match history in pages of pageSize, newest first.
type fakeMatches struct {
	mu       sync.Mutex
	ids      []int64 // descending
	missing  map[int64]bool
	pageSize int
	queries  []steam.HistoryQuery
}

func (f *fakeMatches) GetMatchDetails(_ context.Context, id int64) (*steam.MatchDetails, error) {
	if f.missing[id] {
		return nil, fmt.Errorf("%w: %d", steam.ErrMatchNotFound, id)
	}
	return &steam.MatchDetails{MatchID: id, HumanPlayers: 10, LeagueID: 600, StartTime: 1400000000}, nil
}

func (f *fakeMatches) GetMatchHistory(_ context.Context, q steam.HistoryQuery) (*steam.MatchHistory, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	var page []steam.MatchSummary
	remaining := 0
	for _, id := range f.ids {
		if q.StartAtMatchID > 0 && id > q.StartAtMatchID {
			continue
		}
		if len(page) == f.pageSize {
			remaining++
			continue
		}
		page = append(page, steam.MatchSummary{MatchID: id})
	}
	return &steam.MatchHistory{Status: 1, NumResults: len(page), ResultsRemaining: remaining, Matches: page}, nil
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	matches := &fakeMatches{missing: map[int64]bool{13: true}}
	svc := NewIngestService(env.store, matches, env.dispatcher, nil)

	replay, created, err := svc.Submit(env.ctx, 12)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusWaitingGC, replay.State)
	assert.Equal(t, 600, env.get(t, 12).LeagueID)

	_, created, err = svc.Submit(env.ctx, 12)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []int64{12}, env.meta.ids())

	_, _, err = svc.Submit(env.ctx, 13)
	assert.ErrorIs(t, err, steam.ErrMatchNotFound)

	_, _, err = svc.Submit(env.ctx, -1)
	assert.ErrorIs(t, err, steam.ErrMatchNotFound)
}

func TestIngestLeaguePagesThroughHistory(t *testing.T) {
	env := newTestEnv(t)
	matches := &fakeMatches{ids: []int64{107, 106, 105, 104, 103, 102, 101}, pageSize: 3}
	svc := NewIngestService(env.store, matches, env.dispatcher, &IngestConfig{Workers: 2, PageSize: 3})

	env.seed(t, &domain.Replay{ID: 104, State: domain.StatusArchived})

	stats, err := svc.IngestLeague(env.ctx, 600, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalItems)
	assert.Equal(t, int64(6), stats.CreatedItems)
	assert.Equal(t, int64(1), stats.SkippedItems)
	assert.Zero(t, stats.FailedItems)

	require.Len(t, matches.queries, 3)
	assert.Equal(t, 600, matches.queries[0].LeagueID)
	assert.Equal(t, int64(104), matches.queries[1].StartAtMatchID)
	assert.Equal(t, int64(101), matches.queries[2].StartAtMatchID)
	assert.Len(t, env.meta.ids(), 6)
}

func TestIngestAccountRespectsLimit(t *testing.T) {
	env := newTestEnv(t)
	matches := &fakeMatches{ids: []int64{9, 8, 7, 6}, pageSize: 10}
	svc := NewIngestService(env.store, matches, env.dispatcher, &IngestConfig{Workers: 1})

	stats, err := svc.IngestAccount(env.ctx, 4242, &IngestOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.CreatedItems)
	assert.Equal(t, int64(4242), matches.queries[0].AccountID)
}
