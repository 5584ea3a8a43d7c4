package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/steam"
)

// MatchSource is the part of the match-data client ingestion needs.
type MatchSource interface {
	GetMatchDetails(ctx context.Context, matchID int64) (*steam.MatchDetails, error)
	GetMatchHistory(ctx context.Context, q steam.HistoryQuery) (*steam.MatchHistory, error)
}

// IngestService validates match ids and hands new replays to the Dispatcher.
type IngestService struct {
	store      *repository.Store
	matches    MatchSource
	dispatcher *Dispatcher
	workers    int
	pageSize   int
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers  int
	PageSize int
}

// NewIngestService creates a new ingest service
func NewIngestService(store *repository.Store, matches MatchSource, dispatcher *Dispatcher, cfg *IngestConfig) *IngestService {
	if cfg == nil {
		cfg = &IngestConfig{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &IngestService{
		store:      store,
		matches:    matches,
		dispatcher: dispatcher,
		workers:    workers,
		pageSize:   pageSize,
	}
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems   int64     `json:"total"`
	CreatedItems int64     `json:"created"`
	SkippedItems int64     `json:"skipped"`
	FailedItems  int64     `json:"failed"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// IngestOptions bounds an ingestion run.
type IngestOptions struct {
	Limit int       // 0 means no limit
	Since time.Time // account history only
}

// Submit returns the replay for matchID, creating it first if needed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - matchID: match id from the game network.
// Returns:
//   - *domain.Replay: the stored replay.
//   - bool: true if this call created it.
//   - error: steam.ErrMatchNotFound for unknown matches, *EnqueueError if queueing failed.
func (s *IngestService) Submit(ctx context.Context, matchID int64) (*domain.Replay, bool, error) {
	if matchID <= 0 {
		return nil, false, fmt.Errorf("%w: %d", steam.ErrMatchNotFound, matchID)
	}
	replay, err := s.store.Replays.Get(ctx, matchID)
	if err == nil {
		return replay, false, nil
	}
	if !errors.Is(err, repository.ErrReplayNotFound) {
		return nil, false, err
	}

	details, err := s.matches.GetMatchDetails(ctx, matchID)
	if err != nil {
		return nil, false, err
	}

	replay = &domain.Replay{ID: matchID, MatchMetadata: details.Metadata()}
	if err := s.dispatcher.Create(ctx, replay); err != nil {
		// Lost a race with another submitter.
		if errors.Is(err, repository.ErrReplayExists) {
			existing, getErr := s.store.Replays.Get(ctx, matchID)
			return existing, false, getErr
		}
		return nil, false, err
	}
	return replay, true, nil
}

// IngestLeague submits every match in a league's history.
func (s *IngestService) IngestLeague(ctx context.Context, leagueID int, opts *IngestOptions) (*IngestStats, error) {
	return s.ingest(ctx, steam.HistoryQuery{LeagueID: leagueID}, opts)
}

// IngestAccount submits an account's matches played since opts.Since.
func (s *IngestService) IngestAccount(ctx context.Context, accountID int64, opts *IngestOptions) (*IngestStats, error) {
	q := steam.HistoryQuery{AccountID: accountID}
	if opts != nil {
		q.DateMin = opts.Since
	}
	return s.ingest(ctx, q, opts)
}

func (s *IngestService) ingest(ctx context.Context, q steam.HistoryQuery, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}
	stats := &IngestStats{StartTime: time.Now()}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		"league_id":  q.LeagueID,
		"account_id": q.AccountID,
		"limit":      opts.Limit,
	})
	log.Info("Starting ingestion")

	idsChan := make(chan int64, s.workers*2)
	resultsChan := make(chan submitResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range idsChan {
				_, created, err := s.Submit(ctx, id)
				resultsChan <- submitResult{matchID: id, created: created, err: err}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for r := range resultsChan {
			switch {
			case r.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				log.WithField(logger.FieldReplayID, r.matchID).WithError(r.err).Warn("Failed to submit match")
			case r.created:
				atomic.AddInt64(&stats.CreatedItems, 1)
			default:
				atomic.AddInt64(&stats.SkippedItems, 1)
			}
		}
		close(done)
	}()

	err := s.walkHistory(ctx, q, opts.Limit, func(id int64) bool {
		stats.TotalItems++
		select {
		case idsChan <- id:
			return true
		case <-ctx.Done():
			return false
		}
	})

	close(idsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	log.WithFields(logger.Fields{
		"total":   stats.TotalItems,
		"created": stats.CreatedItems,
		"skipped": stats.SkippedItems,
		"failed":  stats.FailedItems,
	}).Info("Ingestion finished")
	return stats, err
}

type submitResult struct {
	matchID int64
	created bool
	err     error
}

// walkHistory pages backwards through match history, newest first, calling
// emit for each match id until limit is reached or emit returns false.
func (s *IngestService) walkHistory(ctx context.Context, q steam.HistoryQuery, limit int, emit func(int64) bool) error {
	q.MatchesMax = s.pageSize
	seen := 0
	for {
		page, err := s.matches.GetMatchHistory(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to fetch match history: %w", err)
		}
		if len(page.Matches) == 0 {
			return nil
		}

		lowest := page.Matches[0].MatchID
		for _, m := range page.Matches {
			if limit > 0 && seen >= limit {
				return nil
			}
			if !emit(m.MatchID) {
				return ctx.Err()
			}
			seen++
			if m.MatchID < lowest {
				lowest = m.MatchID
			}
		}

		if page.ResultsRemaining <= 0 {
			return nil
		}
		q.StartAtMatchID = lowest - 1
	}
}
