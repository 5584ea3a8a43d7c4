package repository

import (
	"context"
	"time"

	"github.com/dotabank/dotabank/internal/domain"
	"gorm.io/gorm"
)

// FixAttemptRepository stores the reconciliation audit log.
type FixAttemptRepository struct {
	db *gorm.DB
}

func NewFixAttemptRepository(db *gorm.DB) *FixAttemptRepository {
	return &FixAttemptRepository{db: db}
}

// Count returns how many attempts were logged for the replay and kind.
func (r *FixAttemptRepository) Count(ctx context.Context, replayID int64, kind domain.CheckKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.FixAttempt{}).
		Where("replay_id = ? AND error = ?", replayID, kind).
		Count(&count).Error
	return count, err
}

// Log appends one attempt.
func (r *FixAttemptRepository) Log(ctx context.Context, replayID int64, kind domain.CheckKind, extra domain.Extra) (*domain.FixAttempt, error) {
	attempt := &domain.FixAttempt{
		ReplayID:  replayID,
		Error:     kind,
		Extra:     extra,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return nil, err
	}
	return attempt, nil
}

// ListForReplay returns all attempts for a replay, newest first.
func (r *FixAttemptRepository) ListForReplay(ctx context.Context, replayID int64) ([]domain.FixAttempt, error) {
	var attempts []domain.FixAttempt
	err := r.db.WithContext(ctx).
		Where("replay_id = ?", replayID).
		Order("created_at DESC, id DESC").
		Find(&attempts).Error
	return attempts, err
}
