package repository

import (
	"context"
	"errors"

	"github.com/dotabank/dotabank/internal/domain"
	"gorm.io/gorm"
)

// WorkerRepository handles the worker registry.
type WorkerRepository struct {
	db *gorm.DB
}

func NewWorkerRepository(db *gorm.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Create registers a worker.
// Returns:
//   - error: ErrWorkerExists if the username is taken.
func (r *WorkerRepository) Create(ctx context.Context, w *domain.Worker) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Worker{}).Where("username = ?", w.Username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrWorkerExists
	}
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WorkerRepository) GetByID(ctx context.Context, id uint) (*domain.Worker, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *WorkerRepository) GetByUsername(ctx context.Context, username string) (*domain.Worker, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *WorkerRepository) first(ctx context.Context, query string, arg interface{}) (*domain.Worker, error) {
	var w domain.Worker
	if err := r.db.WithContext(ctx).First(&w, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return &w, nil
}

// List returns every registered worker ordered by id.
func (r *WorkerRepository) List(ctx context.Context) ([]domain.Worker, error) {
	var workers []domain.Worker
	err := r.db.WithContext(ctx).Order("id ASC").Find(&workers).Error
	return workers, err
}

// Count returns the number of registered workers.
func (r *WorkerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Worker{}).Count(&count).Error
	return count, err
}

// Delete deregisters a worker together with its job log.
func (r *WorkerRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("worker_id = ?", id).Delete(&domain.Job{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Worker{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWorkerNotFound
		}
		return nil
	})
}
