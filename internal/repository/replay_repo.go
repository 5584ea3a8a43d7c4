package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"gorm.io/gorm"
)

// ReplayRepository handles replay rows.
type ReplayRepository struct {
	db *gorm.DB
}

// NewReplayRepository creates a new ReplayRepository.
func NewReplayRepository(db *gorm.DB) *ReplayRepository {
	return &ReplayRepository{db: db}
}

// Create inserts a new replay. The caller sets the initial state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - replay: replay to persist; ID must be the game network's match id.
// Returns:
//   - error: ErrReplayExists if the id is taken, otherwise the insert error.
func (r *ReplayRepository) Create(ctx context.Context, replay *domain.Replay) error {
	exists, err := r.Exists(ctx, replay.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrReplayExists
	}
	return r.db.WithContext(ctx).Omit("Players").Create(replay).Error
}

// Get loads a replay by id.
// Returns:
//   - *domain.Replay: the replay.
//   - error: ErrReplayNotFound when absent.
func (r *ReplayRepository) Get(ctx context.Context, id int64) (*domain.Replay, error) {
	var replay domain.Replay
	if err := r.db.WithContext(ctx).First(&replay, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReplayNotFound
		}
		return nil, err
	}
	return &replay, nil
}

// GetWithPlayers loads a replay and its roster.
func (r *ReplayRepository) GetWithPlayers(ctx context.Context, id int64) (*domain.Replay, error) {
	var replay domain.Replay
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("player_slot ASC") }).
		First(&replay, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReplayNotFound
		}
		return nil, err
	}
	return &replay, nil
}

// Exists reports whether a replay row exists.
func (r *ReplayRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Replay{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CompareAndSwap applies updates only if the row is still in state from at the
// given version, and bumps the version.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: replay id.
//   - from: state the caller observed.
//   - version: version the caller observed.
//   - updates: column updates; "state" is expected to be among them.
// Returns:
//   - bool: false when another writer got there first.
//   - error: non-nil if the update fails.
func (r *ReplayRepository) CompareAndSwap(ctx context.Context, id int64, from domain.ReplayStatus, version int64, updates map[string]interface{}) (bool, error) {
	cols := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		cols[k] = v
	}
	cols["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).Model(&domain.Replay{}).
		Where("id = ? AND state = ? AND version = ?", id, from, version).
		Updates(cols)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update replay %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListByState pages replays in state, ordered by id, starting after afterID.
func (r *ReplayRepository) ListByState(ctx context.Context, state domain.ReplayStatus, afterID int64, limit int) ([]domain.Replay, error) {
	var replays []domain.Replay
	err := r.db.WithContext(ctx).
		Where("state = ? AND id > ?", state, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&replays).Error
	return replays, err
}

// ListArchivedIn returns the ARCHIVED replays among ids.
func (r *ReplayRepository) ListArchivedIn(ctx context.Context, ids []int64) ([]domain.Replay, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var replays []domain.Replay
	err := r.db.WithContext(ctx).
		Where("state = ? AND id IN ?", domain.StatusArchived, ids).
		Order("id ASC").
		Find(&replays).Error
	return replays, err
}

// ListStale returns replays that entered state at or before cutoff and whose
// metadata (or, lacking it, the replay itself) is no newer than cutoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - state: state to look in.
//   - cutoff: newest state_changed_at that counts as stale.
//   - limit: maximum rows, oldest first.
// Returns:
//   - []domain.Replay: the stale replays.
//   - error: non-nil if the query fails.
func (r *ReplayRepository) ListStale(ctx context.Context, state domain.ReplayStatus, cutoff time.Time, limit int) ([]domain.Replay, error) {
	var replays []domain.Replay
	err := r.db.WithContext(ctx).
		Where("state = ? AND state_changed_at <= ? AND COALESCE(gc_done_time, added_to_site_time) <= ?", state, cutoff, cutoff).
		Order("state_changed_at ASC, id ASC").
		Limit(limit).
		Find(&replays).Error
	return replays, err
}

// ListByStateAndFileState returns replays in state whose replay_state is one of fileStates.
func (r *ReplayRepository) ListByStateAndFileState(ctx context.Context, state domain.ReplayStatus, fileStates []domain.FileState, limit int) ([]domain.Replay, error) {
	var replays []domain.Replay
	err := r.db.WithContext(ctx).
		Where("state = ? AND replay_state IN ?", state, fileStates).
		Order("id ASC").
		Limit(limit).
		Find(&replays).Error
	return replays, err
}

// PlayerCountMismatch is one replay whose human roster disagrees with human_players.
type PlayerCountMismatch struct {
	ReplayID     int64
	HumanPlayers int
	PlayerCount  int
}

// FindPlayerCountMismatches compares human_players with the stored non-bot roster.
// Replays still waiting for metadata or in GC_ERROR have no roster yet and are skipped.
func (r *ReplayRepository) FindPlayerCountMismatches(ctx context.Context, limit int) ([]PlayerCountMismatch, error) {
	var rows []PlayerCountMismatch
	err := r.db.WithContext(ctx).
		Table("replays AS r").
		Select("r.id AS replay_id, r.human_players AS human_players, COUNT(rp.id) AS player_count").
		Joins("LEFT JOIN replay_players rp ON rp.replay_id = r.id AND rp.account_id IS NOT NULL").
		Where("r.state NOT IN ?", []domain.ReplayStatus{domain.StatusGCError, domain.StatusWaitingGC}).
		Group("r.id, r.human_players").
		Having("COUNT(rp.id) <> r.human_players").
		Order("r.id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// CountByState returns how many replays sit in each state.
func (r *ReplayRepository) CountByState(ctx context.Context) (map[domain.ReplayStatus]int64, error) {
	var rows []struct {
		State domain.ReplayStatus
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Replay{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ReplayStatus]int64, len(rows))
	for _, row := range rows {
		out[row.State] = row.Count
	}
	return out, nil
}
