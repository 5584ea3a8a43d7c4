package repository

import (
	"context"

	"github.com/dotabank/dotabank/internal/domain"
	"gorm.io/gorm"
)

// PlayerRepository handles replay roster rows.
type PlayerRepository struct {
	db *gorm.DB
}

func NewPlayerRepository(db *gorm.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// ListByReplay returns the roster ordered by slot.
func (r *PlayerRepository) ListByReplay(ctx context.Context, replayID int64) ([]domain.ReplayPlayer, error) {
	var players []domain.ReplayPlayer
	err := r.db.WithContext(ctx).
		Where("replay_id = ?", replayID).
		Order("player_slot ASC").
		Find(&players).Error
	return players, err
}

// DeleteByReplay removes the whole roster and returns how many rows went.
func (r *PlayerRepository) DeleteByReplay(ctx context.Context, replayID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("replay_id = ?", replayID).Delete(&domain.ReplayPlayer{})
	return res.RowsAffected, res.Error
}

// ReplaceRoster swaps the stored roster for players. Run it inside a transaction.
func (r *PlayerRepository) ReplaceRoster(ctx context.Context, replayID int64, players []domain.ReplayPlayer) error {
	if _, err := r.DeleteByReplay(ctx, replayID); err != nil {
		return err
	}
	if len(players) == 0 {
		return nil
	}
	rows := make([]domain.ReplayPlayer, len(players))
	for i, p := range players {
		p.ID = 0
		p.ReplayID = replayID
		rows[i] = p
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}
